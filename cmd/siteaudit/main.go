package main

import "github.com/raysh454/siteaudit/internal/cli"

func main() {
	cli.Execute()
}
