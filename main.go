package main

import "github.com/atikulmunna/warden/internal/cmd"

func main() {
	cmd.Execute()
}
