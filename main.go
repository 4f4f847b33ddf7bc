package main

import "github.com/phughk/surrealdb/cmd"

func main() {
	cmd.Execute()
}
