// Package bot connects the sandbox to a traQ chat workspace.
//
// A Receiver holds the bot WebSocket and hands every posted message to a
// Dispatcher. The Dispatcher matches the message text against the command
// Parser, turns the command into a sandbox run, and posts the formatted
// result back to the channel through the REST Client.
//
// Commands, for a bot mentioned as @B:
//
//	@B -ping                 replies "pong"
//	@B -hello                runs the hello-world image
//	@B -run <image> [args]   runs a registered image with args
//	@B [args]
//	```python
//	<code>
//	```                      runs code with the script interpreter
//
// Anything else is answered with ":question:".
package bot
