package outbox

import "strings"

const fence = "```"

// SplitText cuts text into chunks of at most size runes, peeling chunks off
// the tail. A chunk that would open or close a code fence it does not
// contain the other half of gets the missing ``` added.
func SplitText(text string, size int) []string {
	if size <= len(fence)*2 {
		size = MaxText
	}
	r := []rune(text)
	if len(r) <= size {
		return []string{text}
	}
	// Leave room for one fence marker on each side.
	limit := size - len(fence)
	tail := string(r[len(r)-limit:])
	head := string(r[:len(r)-limit])
	if strings.Count(tail, fence)%2 == 1 {
		tail = fence + tail
	}
	if strings.Count(head, fence)%2 == 1 {
		head += fence
	}
	return append(SplitText(head, size), tail)
}
