package main

import "github.com/damienfeller/IC-test-lab-segmentation/internal/cli"

func main() {
	cli.Execute()
}
