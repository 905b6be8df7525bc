package main

import (
	"github.com/BeanGreen247/xylonic-sub000/cmd"
)

func main() {
	cmd.Execute()
}
