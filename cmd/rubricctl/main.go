package main

import "github.com/noah-isme/cliniclink-api/internal/cli"

func main() {
	cli.Main()
}
