package main

import "github.com/ogulcanaydogan/Weather-Alert-Guardian/internal/cli"

func main() {
	cli.Execute()
}
