package ai

// systemPrompt frames every model call as the dating advisor.
const systemPrompt = `You are Kharom, a warm and practical dating advisor.
Give honest, respectful advice about dating, relationships, first dates and communication.
Keep answers concise and concrete, suggest next steps the user can actually take,
and never encourage manipulation, harassment or anything unsafe.
Reply in the language the user writes in; when unsure, reply in Thai.`

// blockedFinishReasons are provider finish reasons meaning the content filter stopped the reply.
var blockedFinishReasons = map[string]struct{}{
	"safety":             {},
	"prohibited_content": {},
	"blocklist":          {},
	"spii":               {},
	"recitation":         {},
	"content_filter":     {},
	"refusal":            {},
}

// BlockedMessage is the error text of a content-filtered reply.
const BlockedMessage = "Request blocked by the content policy"
