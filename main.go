package main

import (
	"fmt"

	"github.com/flowmesh/agentruntime/cmd"
)

func main() {
	if err := cmd.Run(); err != nil {
		fmt.Println(err.Error())
		return
	}
}
