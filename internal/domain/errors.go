package domain

import "errors"

// ErrAuthentication marks a failure caused by invalid or expired credentials.
// Platform clients wrap it into the errors they return so the engine can
// distinguish it from transient network failures: authentication errors are
// never retried by the media pipeline's backoff, they propagate so the
// session can be refreshed and the cycle re-attempted.
var ErrAuthentication = errors.New("authentication failed")
