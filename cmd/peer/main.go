package main

import "github.com/TumwekwaseAmiim/amiim-world/cmd/peer/cmd"

func main() {
	cmd.Execute()
}
