package toolcatalog

import (
	"regexp"
	"strings"

	"github.com/haasonsaas/nexus/pkg/orchestration"
)

// tagOpen matches an opening tag and its attributes: <name attr="val" ...>
var tagOpen = regexp.MustCompile(`<([a-zA-Z_][a-zA-Z0-9_]*)((?:\s+[a-zA-Z_][a-zA-Z0-9_-]*="[^"]*")*)\s*>`)

// attrPair matches one name="value" pair inside a captured attribute blob.
var attrPair = regexp.MustCompile(`([a-zA-Z_][a-zA-Z0-9_-]*)="([^"]*)"`)

// cdataWrap strips a single CDATA wrapper from a body, if present.
func stripCDATA(body string) string {
	body = strings.TrimSpace(body)
	const open, close = "<![CDATA[", "]]>"
	if strings.HasPrefix(body, open) && strings.HasSuffix(body, close) {
		return body[len(open) : len(body)-len(close)]
	}
	return body
}

// ParseInvocation extracts the first top-level XML-tag tool invocation from
// text: a tag name, quoted string attributes, an optional CDATA/text body,
// and any named child elements found directly inside that body. It returns
// ok=false (not an error) when no well-formed invocation tag is found,
// letting the caller increment its own parse-retry counter rather than
// treating a malformed model response as fatal.
func ParseInvocation(text string) (orchestration.Invocation, bool) {
	openMatch := tagOpen.FindStringSubmatchIndex(text)
	if openMatch == nil {
		return orchestration.Invocation{}, false
	}
	name := text[openMatch[2]:openMatch[3]]
	attrBlob := ""
	if openMatch[4] != -1 {
		attrBlob = text[openMatch[4]:openMatch[5]]
	}
	closeTag := "</" + name + ">"
	bodyStart := openMatch[1]
	closeIdx := strings.Index(text[bodyStart:], closeTag)
	if closeIdx == -1 {
		return orchestration.Invocation{}, false
	}
	body := text[bodyStart : bodyStart+closeIdx]

	attrs := map[string]string{}
	for _, m := range attrPair.FindAllStringSubmatch(attrBlob, -1) {
		attrs[m[1]] = m[2]
	}

	children := map[string]string{}
	remaining := body
	for {
		childMatch := tagOpen.FindStringSubmatchIndex(remaining)
		if childMatch == nil {
			break
		}
		childName := remaining[childMatch[2]:childMatch[3]]
		childClose := "</" + childName + ">"
		childBodyStart := childMatch[1]
		childCloseIdx := strings.Index(remaining[childBodyStart:], childClose)
		if childCloseIdx == -1 {
			break
		}
		children[childName] = stripCDATA(remaining[childBodyStart : childBodyStart+childCloseIdx])
		remaining = remaining[childBodyStart+childCloseIdx+len(childClose):]
	}

	bodyText := body
	if len(children) > 0 {
		// The body held only named child elements; strip them so Body
		// reflects free-form text/CDATA content exclusively.
		stripped := body
		for {
			childMatch := tagOpen.FindStringSubmatchIndex(stripped)
			if childMatch == nil {
				break
			}
			childName := stripped[childMatch[2]:childMatch[3]]
			childClose := "</" + childName + ">"
			childBodyStart := childMatch[1]
			childCloseIdx := strings.Index(stripped[childBodyStart:], childClose)
			if childCloseIdx == -1 {
				break
			}
			stripped = stripped[:childMatch[0]] + stripped[childBodyStart+childCloseIdx+len(childClose):]
		}
		bodyText = stripped
	}

	return orchestration.Invocation{
		Tool:       name,
		Attributes: attrs,
		Body:       stripCDATA(bodyText),
		Children:   children,
	}, true
}
