package encoder

import "regexp"

// Pre-compiled regexes for classifying ffmpeg stderr output. Classification
// only affects logging: the strategy list falls back on any failure, but
// knowing the encoder itself was unusable (vs. a bad input) matters when
// reading run logs.
var (
	reEncoderUnavailable = regexp.MustCompile(
		`(?i)unknown encoder|` +
			`encoder not found|` +
			`error initializing.*(session|encoder)|` +
			`no (qsv|vaapi|nvenc|device) .*(found|available)|` +
			`cannot load lib|` +
			`failed to initialise|` +
			`not supported by the device`)

	reInputIssue = regexp.MustCompile(
		`(?i)invalid data found when processing input|` +
			`moov atom not found|` +
			`no such file or directory|` +
			`could not open file`)
)

// MatchEncoderUnavailable reports whether stderr indicates the codec or
// hardware device is unusable on this machine.
func MatchEncoderUnavailable(stderr string) bool {
	return reEncoderUnavailable.MatchString(stderr)
}

// MatchInputIssue reports whether stderr indicates a problem with the
// source file rather than the encoder.
func MatchInputIssue(stderr string) bool {
	return reInputIssue.MatchString(stderr)
}

// failureReason classifies a failed attempt's stderr for the fallback log
// line. Encoder problems fall back usefully; input problems will fail
// every strategy the same way.
func failureReason(stderr string) string {
	switch {
	case MatchEncoderUnavailable(stderr):
		return "encoder unavailable"
	case MatchInputIssue(stderr):
		return "input unreadable"
	default:
		return "encode failed"
	}
}
