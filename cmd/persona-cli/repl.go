package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/fatih/color"
	"github.com/iamvkosarev/persona-chat/internal/model"
	"github.com/iamvkosarev/persona-chat/internal/usecase"
	"github.com/iamvkosarev/persona-chat/pkg/local"
)

const owner = ""

var (
	promptColor = color.New(color.FgGreen, color.Bold)
	modelColor  = color.New(color.FgCyan, color.Bold)
	errorColor  = color.New(color.FgRed)
	hintColor   = color.New(color.Faint)
)

type repl struct {
	chat        *usecase.AiChatUsecase
	attachments *usecase.AttachmentUsecase
	renderer    *glamour.TermRenderer
	in          io.Reader
	out         io.Writer

	scanner *bufio.Scanner
	image   string
}

func (r *repl) run(ctx context.Context) error {
	r.scanner = bufio.NewScanner(r.in)
	r.scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	r.printModels(ctx)
	r.printHint("/model <id>, /clear, /image <path>, /history, /exit")

	for {
		active := r.chat.ActiveModel(ctx, owner)
		promptColor.Fprintf(r.out, "%s> ", active)
		line, ok := r.readLine()
		if !ok {
			return nil
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			if exit := r.handleCommand(ctx, line); exit {
				return nil
			}
			continue
		}
		r.send(ctx, active, line)
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (r *repl) readLine() (string, bool) {
	if !r.scanner.Scan() {
		return "", false
	}
	return r.scanner.Text(), true
}

func (r *repl) handleCommand(ctx context.Context, line string) bool {
	command, arg := parseCommand(line)
	lang := r.chat.Language()

	switch command {
	case "exit", "quit":
		return true
	case "model":
		if arg == "" {
			r.printModels(ctx)
			return false
		}
		if _, err := r.chat.SelectModel(ctx, owner, model.ModelID(arg)); err != nil {
			r.printError(err)
			return false
		}
		fmt.Fprintln(r.out, local.ModelSelected.Format(lang, arg))
	case "clear":
		fmt.Fprintf(r.out, "%s [y/N] ", local.ClearConfirm.Text(lang))
		answer, _ := r.readLine()
		confirmed := isYes(answer)
		if _, err := r.chat.ClearHistory(ctx, owner, r.chat.ActiveModel(ctx, owner), confirmed); err != nil {
			if errors.Is(err, usecase.ErrClearNotConfirmed) {
				fmt.Fprintln(r.out, local.ClearCancelled.Text(lang))
				return false
			}
			r.printError(err)
			return false
		}
		fmt.Fprintln(r.out, local.ClearDone.Text(lang))
	case "image":
		if err := r.attach(arg); err != nil {
			if warning := r.attachments.UserFacingError(err, lang); warning != "" {
				r.printError(errors.New(warning))
				return false
			}
			r.printError(err)
			return false
		}
		r.printHint("image attached to the next message")
	case "history":
		active := r.chat.ActiveModel(ctx, owner)
		messages, err := r.chat.History(ctx, owner, active)
		if err != nil {
			r.printError(err)
			return false
		}
		for _, message := range messages {
			r.printMessage(message)
		}
	default:
		r.printError(errors.New(local.UnknownCommand.Text(lang)))
	}
	return false
}

func (r *repl) attach(path string) error {
	if path == "" {
		return errors.New("usage: /image <path>")
	}
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open image: %w", err)
	}
	defer file.Close()

	size := int64(-1)
	if info, err := file.Stat(); err == nil {
		size = info.Size()
	}
	image, err := r.attachments.ReadImage(file, size)
	if err != nil {
		return err
	}
	r.image = image
	return nil
}

func (r *repl) send(ctx context.Context, modelID model.ModelID, text string) {
	pending, err := r.chat.Send(ctx, owner, modelID, text, r.image)
	if err != nil {
		r.printError(err)
		return
	}
	r.image = ""

	select {
	case settled := <-pending.Done:
		r.printMessage(settled)
	case <-ctx.Done():
	}
}

func (r *repl) printMessage(message model.Message) {
	switch {
	case message.Role == model.RoleUser:
		promptColor.Fprint(r.out, "you: ")
		fmt.Fprintln(r.out, message.Text)
		if message.Image != "" {
			r.printHint("[image]")
		}
	case message.Error:
		title := local.ErrorTitle.Text(r.chat.Language())
		r.printError(fmt.Errorf("%s: %s", title, r.chat.UserFacingError(message.ErrorType)))
	case message.IsLoading:
		r.printHint("…")
	default:
		modelColor.Fprintln(r.out, "assistant:")
		rendered, err := r.renderer.Render(message.Text)
		if err != nil {
			rendered = message.Text + "\n"
		}
		fmt.Fprint(r.out, rendered)
	}
}

func (r *repl) printModels(ctx context.Context) {
	active := r.chat.ActiveModel(ctx, owner)
	for _, persona := range r.chat.Models() {
		marker := " "
		if persona.ID == active {
			marker = "*"
		}
		fmt.Fprintf(r.out, "%s %s  %s  %s\n", marker, modelColor.Sprint(persona.ID), persona.Name, persona.Description)
	}
}

func (r *repl) printError(err error) {
	errorColor.Fprintln(r.out, err.Error())
}

func (r *repl) printHint(hint string) {
	hintColor.Fprintln(r.out, hint)
}

func parseCommand(line string) (string, string) {
	line = strings.TrimPrefix(strings.TrimSpace(line), "/")
	command, arg, _ := strings.Cut(line, " ")
	return strings.ToLower(command), strings.TrimSpace(arg)
}

func isYes(answer string) bool {
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes", "نعم":
		return true
	default:
		return false
	}
}
