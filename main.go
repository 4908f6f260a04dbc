package main

import "contentguard/internal/app"

func main() {
	app.Main()
}
