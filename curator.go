package main

import (
	"github.com/priyxstudio/curator/cmd"
)

func main() {
	cmd.Execute()
}
