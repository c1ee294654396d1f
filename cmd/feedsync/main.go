// Command feedsync fetches fund quotes and news, skips unchanged payloads and
// persists the rest idempotently.
package main

import "feedsync/internal/cli"

func main() {
	cli.Execute()
}
