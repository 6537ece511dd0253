// Package slackfmt turns a final agent answer into Slack-ready messages.
package slackfmt

// Process cleans up the raw answer, strips narration, converts Markdown to
// Slack mrkdwn and splits the result into postable chunks.
func Process(text string) []string {
	return Chunk(ToMrkdwn(StripNarration(FinalText(text))), MaxChunkLen)
}
