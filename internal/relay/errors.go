package relay

import "errors"

// ErrDuplicateSession is returned when a user id is already bound to a
// live session. Ids are assigned per connection, so this indicates a bug
// rather than a client mistake.
var ErrDuplicateSession = errors.New("session id already registered")
