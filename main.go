package main

import "github.com/andresmejia3/attendo/cmd"

func main() {
	cmd.Execute()
}
