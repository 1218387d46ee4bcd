package commands

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/chatline/chatline/internal/logger"
	"github.com/chatline/chatline/internal/wire"
	"github.com/chatline/chatline/pkg/agent"
	"github.com/chatline/chatline/pkg/config"
	"github.com/chatline/chatline/pkg/download"
)

var username string

var connectCmd = &cobra.Command{
	Use:   "connect [HOST:PORT] [NUM_CONNECTIONS]",
	Short: "Connect to a relay and chat",
	Long: `Connect to a relay server and start an interactive session.

The relay address and the receive pool size can be given as positional
arguments, overriding the configuration. Messages typed at the prompt go to
the current group; slash commands control everything else:

  /clients                list connected clients
  /groups                 list groups
  /members <group>        list members of a group
  /create <group>         create a group
  /join <group>           create (if needed) and join a group
  /leave <group>          leave a group
  /leaveall               leave every group
  /msg <client> <text>    send a private message
  /announce <text>        announce to the current group
  /sendfile <client> <path>  send a file
  /quit                   disconnect and exit

Examples:
  chatline connect --name alice
  chatline connect 192.168.1.10:50000 16 --name alice`,
	Args: cobra.MaximumNArgs(2),
}

func init() {
	connectCmd.RunE = runConnect
	connectCmd.Flags().StringVar(&username, "name", "", "client name to join under (required)")
	_ = connectCmd.MarkFlagRequired("name")
}

func runConnect(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}); err != nil {
		return err
	}

	host := cfg.Server.Host
	if host == "" {
		host = "127.0.0.1"
	}
	port := cfg.Server.Port
	connections := cfg.Client.Connections

	if len(args) >= 1 {
		h, portStr, err := net.SplitHostPort(args[0])
		if err != nil {
			return fmt.Errorf("invalid server address %q: %w", args[0], err)
		}
		p, err := strconv.Atoi(portStr)
		if err != nil || p < 1 || p > 65535 {
			return fmt.Errorf("invalid server port %q", portStr)
		}
		host, port = h, p
	}
	if len(args) >= 2 {
		n, err := strconv.Atoi(args[1])
		if err != nil || n < 1 {
			return fmt.Errorf("invalid connection count %q", args[1])
		}
		connections = n
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := cmd.OutOrStdout()

	a, err := agent.New(ctx, agent.Config{
		Host:         host,
		Port:         port,
		Username:     username,
		Connections:  connections,
		QueueSize:    cfg.Client.QueueSize,
		RetryBackoff: cfg.Client.RetryBackoff,
		DialAttempts: 3,
		OnMessage: func(msg *wire.Message) {
			printMessage(out, cfg.Client.DownloadDir, msg)
		},
		DiscoveryEnabled: cfg.Discovery.Enabled,
		DiscoveryPort:    cfg.Discovery.Port,
	})
	if err != nil {
		return fmt.Errorf("connection failed: %w", err)
	}
	defer a.Stop()

	fmt.Fprintf(out, "Connected to %s:%d as %q with %d connections. Type /help for commands.\n",
		host, port, username, connections)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-sigCh:
			fmt.Fprintln(out, "\nDisconnecting...")
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			quit, err := handleLine(out, a, line)
			if err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
			}
			if quit {
				return nil
			}
		}
	}
}

// handleLine executes one prompt line. Plain text goes to the current group.
func handleLine(out io.Writer, a *agent.Agent, line string) (quit bool, err error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false, nil
	}

	if !strings.HasPrefix(line, "/") {
		group := a.Group()
		if group == "" {
			return false, fmt.Errorf("not in a group; /join one or use /msg")
		}
		resp, err := a.SendGroup(group, wire.CodeDataText, line)
		if err != nil {
			return false, err
		}
		if resp != wire.ResponseOK {
			return false, fmt.Errorf("server replied %s", resp)
		}
		return false, nil
	}

	fields := strings.Fields(line)
	command, args := fields[0], fields[1:]

	switch command {
	case "/quit", "/exit":
		return true, nil

	case "/help":
		fmt.Fprint(out, connectCmd.Long, "\n")
		return false, nil

	case "/clients":
		names, err := a.GetConnectedClients()
		if err != nil {
			return false, err
		}
		fmt.Fprintf(out, "clients: %s\n", strings.Join(names, ", "))
		return false, nil

	case "/groups":
		names, err := a.GetGroups()
		if err != nil {
			return false, err
		}
		fmt.Fprintf(out, "groups: %s\n", strings.Join(names, ", "))
		return false, nil

	case "/members":
		if len(args) != 1 {
			return false, fmt.Errorf("usage: /members <group>")
		}
		names, err := a.GetClientsInGroup(args[0])
		if err != nil {
			return false, err
		}
		fmt.Fprintf(out, "members of %s: %s\n", args[0], strings.Join(names, ", "))
		return false, nil

	case "/create":
		if len(args) != 1 {
			return false, fmt.Errorf("usage: /create <group>")
		}
		resp, err := a.CreateGroup(args[0])
		if err != nil {
			return false, err
		}
		fmt.Fprintf(out, "create %s: %s\n", args[0], resp)
		return false, nil

	case "/join":
		if len(args) != 1 {
			return false, fmt.Errorf("usage: /join <group>")
		}
		created, joined, err := a.CreateAndJoin(args[0])
		if err != nil {
			return false, err
		}
		fmt.Fprintf(out, "join %s: create=%s join=%s\n", args[0], created, joined)
		return false, nil

	case "/leave":
		if len(args) != 1 {
			return false, fmt.Errorf("usage: /leave <group>")
		}
		resp, err := a.LeaveGroup(args[0])
		if err != nil {
			return false, err
		}
		fmt.Fprintf(out, "leave %s: %s\n", args[0], resp)
		return false, nil

	case "/leaveall":
		resp, err := a.LeaveAllGroups()
		if err != nil {
			return false, err
		}
		fmt.Fprintf(out, "leave all: %s\n", resp)
		return false, nil

	case "/msg":
		if len(args) < 2 {
			return false, fmt.Errorf("usage: /msg <client> <text>")
		}
		resp, err := a.SendPrivate(args[0], wire.CodeDataText, strings.Join(args[1:], " "))
		if err != nil {
			return false, err
		}
		if resp != wire.ResponseOK {
			return false, fmt.Errorf("server replied %s", resp)
		}
		return false, nil

	case "/announce":
		if len(args) < 1 {
			return false, fmt.Errorf("usage: /announce <text>")
		}
		group := a.Group()
		if group == "" {
			return false, fmt.Errorf("not in a group")
		}
		resp, err := a.Announce(group, strings.Join(args, " "))
		if err != nil {
			return false, err
		}
		if resp != wire.ResponseOK {
			return false, fmt.Errorf("server replied %s", resp)
		}
		return false, nil

	case "/sendfile":
		if len(args) != 2 {
			return false, fmt.Errorf("usage: /sendfile <client> <path>")
		}
		content, err := os.ReadFile(args[1])
		if err != nil {
			return false, err
		}
		resp, err := a.SendFile(args[0], &wire.FileTransfer{
			Filename: args[1],
			Content:  content,
		})
		if err != nil {
			return false, err
		}
		fmt.Fprintf(out, "sent %s (%d bytes): %s\n", args[1], len(content), resp)
		return false, nil

	default:
		return false, fmt.Errorf("unknown command %s", command)
	}
}

// printMessage renders one inbound message, saving FILE payloads to disk.
func printMessage(out io.Writer, downloadDir string, msg *wire.Message) {
	from := msg.SrcName()

	switch {
	case msg.Flag == wire.FlagAnnounce:
		text, err := msg.Text()
		if err != nil {
			return
		}
		fmt.Fprintf(out, "*** %s announces: %s\n", from, text)

	case msg.Type == wire.CodeDataFile:
		file, err := msg.File()
		if err != nil {
			logger.Warn("Malformed file transfer", "from", from, "error", err)
			return
		}
		path, err := download.Save(downloadDir, file)
		if err != nil {
			logger.Warn("Saving file failed", "from", from, "error", err)
			return
		}
		fmt.Fprintf(out, "[%s] sent a file: saved %s (%d bytes)\n", from, path, file.Size())

	case msg.Type == wire.CodeDataText:
		text, err := msg.Text()
		if err != nil {
			return
		}
		if group := msg.DstGroup(); group != "" {
			fmt.Fprintf(out, "[%s @ %s] %s\n", from, group, text)
		} else {
			fmt.Fprintf(out, "[%s] %s\n", from, text)
		}

	default:
		fmt.Fprintf(out, "[%s] (%s payload, %d bytes)\n", from, msg.Type, len(msg.Body))
	}
}
