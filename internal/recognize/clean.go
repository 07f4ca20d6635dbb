package recognize

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	captchaRe = regexp.MustCompile(`^[A-Z]{4}$`)
	nonLetter = regexp.MustCompile(`[^A-Z]`)
	nonClock  = regexp.MustCompile(`[^0-9:]`)
)

// Clean normalizes raw engine output according to the purpose. ok is false
// when the text cannot be coerced into the expected shape.
func Clean(raw string, purpose Purpose) (string, bool) {
	switch purpose {
	case PurposeCaptcha:
		return cleanCaptcha(raw)
	case PurposeTimeField:
		return cleanTime(raw)
	default:
		t := strings.TrimSpace(raw)
		return t, t != ""
	}
}

// cleanCaptcha uppercases and strips everything but letters; the site's
// challenges are always exactly four letters.
func cleanCaptcha(raw string) (string, bool) {
	cleaned := nonLetter.ReplaceAllString(strings.ToUpper(raw), "")
	if captchaRe.MatchString(cleaned) {
		return cleaned, true
	}
	return "", false
}

// cleanTime keeps digits and colons and validates a 24h HH:MM reading.
func cleanTime(raw string) (string, bool) {
	cleaned := nonClock.ReplaceAllString(raw, "")
	parts := strings.Split(cleaned, ":")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", false
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil {
		return "", false
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil {
		return "", false
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return "", false
	}
	return fmt.Sprintf("%02d:%02d", hour, minute), true
}

// heuristicConfidence scores decoded text by how well it fits the expected
// shape, used to blend with the engine-reported word confidence.
func heuristicConfidence(txt string, purpose Purpose) float64 {
	score := 0.2 // base
	switch purpose {
	case PurposeCaptcha:
		letters := nonLetter.ReplaceAllString(strings.ToUpper(txt), "")
		if len(letters) == 4 {
			score += 0.5
		} else if len(letters) >= 3 && len(letters) <= 5 {
			score += 0.25
		}
		if letters == strings.TrimSpace(strings.ToUpper(txt)) {
			score += 0.2 // no noise beyond the letters themselves
		}
	case PurposeTimeField:
		if _, ok := cleanTime(txt); ok {
			score += 0.6
		}
		if strings.Count(txt, ":") == 1 {
			score += 0.1
		}
	}
	if score > 1.0 {
		score = 1.0
	}
	return score
}
