package bundle

import "errors"

var (
	errNullSourceReports  = errors.New("bundle: null-source bundle must not request reports or custody")
	errNullSourceFragment = errors.New("bundle: null-source bundle must set do-not-fragment")
)
