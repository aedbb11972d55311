package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
)

func (a *App) Main(ctx context.Context) {

	fmt.Println("EverWith CLI (type 'help' for commands)")
	scanner := bufio.NewScanner(os.Stdin)

	for {
		fmt.Printf("everwith %s > ", a.showLogin())
		if !scanner.Scan() {
			break
		}
		line := scanner.Text()
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}

		cmd := parts[0]
		args := parts[1:]

		switch cmd {
		case "help":
			if a.isLoggedIn() {
				fmt.Println("Available commands: status, costs, check <mode>, process <mode> [image-url], buy <tier>, buypack <product>, restore, refresh, logout, exit")
			} else {
				fmt.Println("Available commands: login, status, check <mode>, exit")
			}

		case "login":
			a.Login(ctx)

		case "logout":
			a.Logout(ctx)

		case "status":
			a.Status(ctx)

		case "costs":
			a.Costs(ctx)

		case "check":
			if len(args) == 0 {
				fmt.Println("Usage: check <mode>")
				continue
			}
			a.Check(ctx, args[0])

		case "process":
			if len(args) == 0 {
				fmt.Println("Usage: process <mode> [image-url]")
				continue
			}
			imageURL := ""
			if len(args) > 1 {
				imageURL = args[1]
			}
			a.Process(ctx, args[0], imageURL)

		case "buy":
			if len(args) == 0 {
				fmt.Println("Usage: buy <premium_monthly|premium_yearly>")
				continue
			}
			a.Buy(ctx, args[0])

		case "buypack":
			if len(args) == 0 {
				fmt.Println("Usage: buypack <credits_5|credits_10|credits_25|credits_50>")
				continue
			}
			a.BuyPack(ctx, args[0])

		case "restore":
			a.Restore(ctx)

		case "refresh":
			a.Refresh(ctx)

		case "exit", "quit":
			fmt.Println("Bye!")
			return

		default:
			fmt.Println("Unknown command:", cmd)
		}
	}
}

func (a *App) showLogin() string {
	if a.isLoggedIn() {
		if id := a.engine.UserID(); id != "" {
			return id
		}
		return "signed-in"
	}
	return "anonymous"
}
