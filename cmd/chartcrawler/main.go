package main

import "github.com/JakeFAU/billboard-chart-crawler/cmd"

func main() {
	cmd.Execute()
}
