package main

import "github.com/kennethvuongcode/surprise-models/cmd"

func main() {
	cmd.Execute()
}
