// parley CLI - command line client for a parley server
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"

	"github.com/eldtechnologies/parley/clients/go/parley"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	client := parley.NewClient(os.Getenv("PARLEY_URL"))
	client.Sender = os.Getenv("PARLEY_SENDER")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cmd := os.Args[1]

	switch cmd {
	case "health":
		resp, err := client.Health(ctx)
		exitOnError(err)
		printJSON(resp)

	case "rooms":
		rooms, err := client.ListRooms(ctx)
		exitOnError(err)
		for _, room := range rooms {
			fmt.Printf("  %d  %v\n", room.ID, room.Participants)
		}

	case "create-room":
		room, err := client.CreateRoom(ctx, os.Args[2:]...)
		exitOnError(err)
		fmt.Printf("Created room %d\n", room.ID)

	case "join":
		requireArgs(4, "parley join <room_id> <identity>")
		room, err := client.Join(ctx, roomArg(os.Args[2]), os.Args[3])
		exitOnError(err)
		fmt.Printf("Room %d: %v\n", room.ID, room.Participants)

	case "delete-room":
		requireArgs(3, "parley delete-room <room_id>")
		exitOnError(client.DeleteRoom(ctx, roomArg(os.Args[2])))
		fmt.Println("Deleted")

	case "send":
		requireArgs(4, "parley send <room_id> <message>")
		sender := client.Sender
		if sender == "" {
			fmt.Fprintln(os.Stderr, "PARLEY_SENDER must be set")
			os.Exit(1)
		}
		msg, err := client.Send(ctx, sender, os.Args[3], roomArg(os.Args[2]))
		exitOnError(err)
		fmt.Printf("Sent: %d\n", msg.ID)

	case "read":
		requireArgs(3, "parley read <room_id>")
		msgs, err := client.History(ctx, roomArg(os.Args[2]))
		exitOnError(err)
		for _, msg := range msgs {
			printMessage(msg)
		}

	case "watch":
		var roomID int64
		if len(os.Args) > 2 {
			roomID = roomArg(os.Args[2])
		}
		err := client.Subscribe(ctx, roomID, func(ev parley.Event) error {
			switch ev.Type {
			case "message":
				printMessage(*ev.Message)
			case "lagged":
				fmt.Fprintf(os.Stderr, "(missed %d messages)\n", ev.Skipped)
			}
			return nil
		})
		if ctx.Err() == nil {
			exitOnError(err)
		}

	case "help", "--help", "-h":
		usage()

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Println(`parley CLI

Usage: parley <command> [options]

Commands:
  send <room> <message>     Send a message as $PARLEY_SENDER
  read <room>               Print a room's history
  watch [room]              Stream live messages (all rooms by default)
  rooms                     List rooms
  create-room [identity...] Create a room
  join <room> <identity>    Add a participant
  delete-room <room>        Delete a room and its messages
  health                    Check server health

Environment:
  PARLEY_URL      Server URL (default: http://localhost:8080)
  PARLEY_SENDER   Sender identity`)
}

func requireArgs(n int, usage string) {
	if len(os.Args) < n {
		fmt.Fprintln(os.Stderr, "Usage:", usage)
		os.Exit(1)
	}
}

func roomArg(s string) int64 {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		fmt.Fprintf(os.Stderr, "invalid room id %q\n", s)
		os.Exit(1)
	}
	return id
}

func printMessage(msg parley.Message) {
	fmt.Printf("[%s] #%d %s: %s\n", msg.Timestamp.Local().Format("2006-01-02 15:04:05"), msg.RoomID, msg.Sender, msg.Body)
}

func exitOnError(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func printJSON(v interface{}) {
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(data))
}
