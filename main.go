package main

import "github.com/inovacc/tfsarchive/cmd"

func main() {
	cmd.Execute()
}
