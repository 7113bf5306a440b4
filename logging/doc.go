/*
Package logging implements application log instrumentation and Apache
combined access log.

# Application Log

The application log uses the logrus package:

https://github.com/sirupsen/logrus

To send messages to the application log, import logrus and use its
methods. Example:

	import log "github.com/sirupsen/logrus"

	func doSomething() {
	    log.Errorf("nothing to do")
	}

Components that accept a custom logger take a Logger. DefaultLog
forwards to the standard logrus logger.

During startup initialization, it is possible to redirect the log output
from the default /dev/stderr to another file, to set a common prefix
for each log entry and to switch to JSON output.

# Access Log

The access log prints HTTP access information in the Apache combined
access log format, extended with the duration and the requested host.
Handlers wrapped by NewHandler are logged. Inner handlers can attach
additional fields to the entry of the current request with
AddAccessField, e.g. the gatekeeper decision. When JSON output is
enabled, the additional fields are included in the entry.
*/
package logging
