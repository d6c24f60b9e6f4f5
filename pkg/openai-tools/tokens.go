package openai_tools

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
	"github.com/sashabaranov/go-openai"
)

const (
	fallbackEncoding = "cl100k_base"
	tokensPerMessage = 3
	tokensPerReply   = 3
)

// CountToken estimates the prompt size of messages. Models unknown to
// tiktoken, which includes every non-OpenAI model, are counted with the
// cl100k_base encoding, so the result is an approximation.
func CountToken(messages []openai.ChatCompletionMessage, model string) (int, error) {
	tkm, err := tiktoken.EncodingForModel(model)
	if err != nil {
		tkm, err = tiktoken.GetEncoding(fallbackEncoding)
		if err != nil {
			return 0, fmt.Errorf("failed to get encoding %s: %w", fallbackEncoding, err)
		}
	}

	numTokens := 0
	for _, message := range messages {
		numTokens += tokensPerMessage
		numTokens += len(tkm.Encode(message.Content, nil, nil))
		numTokens += len(tkm.Encode(message.Role, nil, nil))
		for _, part := range message.MultiContent {
			if part.Type == openai.ChatMessagePartTypeText {
				numTokens += len(tkm.Encode(part.Text, nil, nil))
			}
		}
	}
	numTokens += tokensPerReply
	return numTokens, nil
}
