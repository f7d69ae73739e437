package debuginfo

import (
	"strconv"
	"strings"
)

// Demangle normalizes a mangled symbol name into a readable form.
//
// Firmware built with rustc uses the legacy Itanium-style mangling
// (_ZN...17h<hash>E). Names that don't look mangled are passed through
// unchanged, so plain C symbols like "Reset" or "HardFault" survive as-is.
func Demangle(name string) string {
	demangled, ok := demangleLegacy(name)
	if !ok {
		return stripHashSuffix(name)
	}
	return stripHashSuffix(demangled)
}

// demangleLegacy decodes the rustc legacy mangling scheme: _ZN followed by
// length-prefixed path segments, terminated by E. Segment escapes ($LT$,
// $GT$, $u27$, ..) are expanded. Returns false if the name is not in this
// scheme.
func demangleLegacy(name string) (string, bool) {
	s, found := strings.CutPrefix(name, "_ZN")
	if !found {
		return "", false
	}

	var segments []string
	for {
		if s == "" {
			return "", false
		}
		if s[0] == 'E' {
			// Trailing garbage after the terminator means this isn't a
			// well-formed legacy symbol
			if len(s) != 1 {
				return "", false
			}
			break
		}

		// Length-prefixed segment
		i := 0
		for i < len(s) && s[i] >= '0' && s[i] <= '9' {
			i++
		}
		if i == 0 {
			return "", false
		}
		n, err := strconv.Atoi(s[:i])
		if err != nil || i+n > len(s) {
			return "", false
		}
		segments = append(segments, unescapeSegment(s[i:i+n]))
		s = s[i+n:]
	}

	if len(segments) == 0 {
		return "", false
	}
	return strings.Join(segments, "::"), true
}

// unescapeSegment expands the $...$ escapes rustc uses for characters that
// are not valid in mangled identifiers.
func unescapeSegment(seg string) string {
	// Identifiers can't start with the escape character, so rustc prefixes
	// an underscore; drop it before expanding
	if strings.HasPrefix(seg, "_$") {
		seg = seg[1:]
	}
	if !strings.Contains(seg, "$") && !strings.Contains(seg, "..") {
		return seg
	}

	replacer := strings.NewReplacer(
		"$SP$", "@",
		"$BP$", "*",
		"$RF$", "&",
		"$LT$", "<",
		"$GT$", ">",
		"$LP$", "(",
		"$RP$", ")",
		"$C$", ",",
		"$u20$", " ",
		"$u22$", "\"",
		"$u27$", "'",
		"$u2b$", "+",
		"$u3b$", ";",
		"$u5b$", "[",
		"$u5d$", "]",
		"$u7b$", "{",
		"$u7d$", "}",
		"$u7e$", "~",
		"..", "::",
	)
	return replacer.Replace(seg)
}

// stripHashSuffix removes the trailing disambiguator hash rustc appends to
// every monomorphized symbol (e.g. "::hd881d91ced85c2b0").
func stripHashSuffix(name string) string {
	const hashLen = len("::hd881d91ced85c2b0")
	if len(name) < hashLen {
		return name
	}
	tail := name[len(name)-hashLen:]
	if !strings.HasPrefix(tail, "::h") {
		return name
	}
	for _, c := range tail[3:] {
		if !isHexDigit(c) {
			return name
		}
	}
	return name[:len(name)-hashLen]
}

func isHexDigit(c rune) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')
}
