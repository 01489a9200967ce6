package main

import "github.com/ValentinKolb/kStorage/cmd"

func main() {
	cmd.Execute()
}
