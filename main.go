// Command socialhub runs the social network resource server.
//
//	socialhub serve              start the HTTP API and the websocket relay
//	socialhub migrate up         apply the embedded schema
//	socialhub migrate down [N]   roll back N migrations
package main

import (
	"os"

	"github.com/Skryldev/socialhub/cli"
)

func main() {
	os.Exit(cli.Execute())
}
