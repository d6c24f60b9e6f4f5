package local

var (
	ErrorTitle = Set(
		"تنبيه",
		"Warning",
	)
	QuotaExceeded = Set(
		"تم تجاوز حد الاستخدام لهذا النموذج. يرجى الانتظار قليلاً أو تجربة نموذج آخر.",
		"The usage limit for this model was exceeded. Please wait a little or try another model.",
	)
	UnexpectedError = Set(
		"حدث خطأ غير متوقع. يرجى المحاولة مرة أخرى.",
		"An unexpected error occurred. Please try again.",
	)
	EmptyReply = Set(
		"عذراً، لم أتمكن من إنشاء رد.",
		"Sorry, I could not generate a reply.",
	)
	ImageTooLarge = Set(
		"حجم الصورة كبير جداً. يرجى اختيار صورة أصغر من %d ميجابايت.",
		"The image is too large. Please choose an image smaller than %d MB.",
	)
	UnsupportedImage = Set(
		"نوع الصورة غير مدعوم. الأنواع المدعومة: JPEG و PNG و WEBP.",
		"Unsupported image type. Supported types: JPEG, PNG and WEBP.",
	)
	ClearTitle = Set(
		"مسح المحادثة",
		"Clear conversation",
	)
	ClearConfirm = Set(
		"هل أنت متأكد من رغبتك في مسح سجل المحادثة بالكامل لهذا النموذج؟ لا يمكن التراجع عن هذا الإجراء.",
		"Are you sure you want to clear the whole conversation with this model? This cannot be undone.",
	)
	ClearDone = Set(
		"تم مسح المحادثة.",
		"Conversation cleared.",
	)
	ClearCancelled = Set(
		"تم الإلغاء.",
		"Cancelled.",
	)

	Yes = Set("نعم", "Yes")
	No  = Set("لا", "No")

	SelectModel = Set(
		"اختر النموذج:",
		"Select a model:",
	)
	ModelSelected = Set(
		"تم التبديل إلى %s",
		"Switched to %s",
	)
	HistoryStats = Set(
		"النموذج: %s، عدد الرسائل: %d",
		"Model: %s, messages: %d",
	)
	Help = Set(
		"اكتب رسالة أو أرسل صورة لبدء المحادثة. /models لاختيار النموذج، /clear لمسح المحادثة، /history لعرض حالة المحادثة.",
		"Write a message or send a photo to chat. /models selects a model, /clear clears the conversation, /history shows its state.",
	)
	NoAccess = Set(
		"غير مسموح لك باستخدام هذا البوت.",
		"You are not allowed to use this bot.",
	)
	UnknownCommand = Set(
		"أمر غير معروف.",
		"I don't know that command.",
	)
	ServerError = Set(
		"حدث خطأ ما. حاول لاحقاً.",
		"Something went wrong. Try later.",
	)
)
