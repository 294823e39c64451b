package main

import "github.com/rittima/CRM-Team-sub000/internal/app/server"

func main() {
	server.Run()
}
