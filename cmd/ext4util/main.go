// Command ext4util drives the ext4 engine from the command line: mkfs,
// fsck, and dump subcommands over a raw device or disk image.
package main

import (
	"github.com/ext4fs/ext4fs/cmd/ext4util/cmd"
)

func main() {
	cmd.Execute()
}
