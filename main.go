/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package main

import "qqbot/cmd"

func main() {
	cmd.Execute()
}
