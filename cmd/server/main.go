package main

import "github.com/nguyentranbao-ct/consult-live/cmd"

func main() {
	cmd.Execute()
}
