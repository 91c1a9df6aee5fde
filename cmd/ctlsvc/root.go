package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/avvvet/wishcard-services/internal/comm"
	natscli "github.com/avvvet/wishcard-services/internal/nats"
	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	timeout time.Duration
	issuer  string
)

// requester is satisfied by *nats.Conn.
type requester interface {
	Request(subj string, data []byte, timeout time.Duration) (*nats.Msg, error)
}

// connect opens the NATS connection used by every subcommand.
var connect = func() (requester, func(), error) {
	n, err := natscli.Connect(SERVICE_NAME)
	if err != nil {
		return nil, nil, err
	}
	log.Infof("NATS connection established successfully %s", n.Url)
	return n.Conn, n.Conn.Close, nil
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "ctlsvc",
		Short: "Operate the wish card service",
		Long: `ctlsvc sends operator commands to running card service instances
over NATS and prints the reply of the instance that handled it.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().DurationVarP(&timeout, "timeout", "t", 5*time.Second, "Time to wait for a reply")
	rootCmd.PersistentFlags().StringVar(&issuer, "issuer", defaultIssuer(), "Name recorded in the service log")

	rootCmd.AddCommand(newMatchingCmd("pause", "Stop new matches; queries answer PAUSED", false))
	rootCmd.AddCommand(newMatchingCmd("resume", "Allow matching again", true))
	rootCmd.AddCommand(newSimpleCmd("reload-dict", "Reload the sensitive word dictionary from disk", comm.TypeReloadDict))
	rootCmd.AddCommand(newSimpleCmd("flush", "Write pending card changes to the database now", comm.TypeFlush))

	return rootCmd
}

func newMatchingCmd(use, short string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			on := enabled
			return sendControl(cmd, comm.ControlMessage{Type: comm.TypeSetMatching, Enabled: &on})
		},
	}
}

func newSimpleCmd(use, short, typ string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return sendControl(cmd, comm.ControlMessage{Type: typ})
		},
	}
}

func sendControl(cmd *cobra.Command, msg comm.ControlMessage) error {
	msg.Issuer = issuer
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal control message: %w", err)
	}

	conn, closeConn, err := connect()
	if err != nil {
		return fmt.Errorf("connect to nats: %w", err)
	}
	defer closeConn()

	rsp, err := conn.Request(comm.SubjectCtlService, data, timeout)
	if err != nil {
		return fmt.Errorf("%s: %w", msg.Type, err)
	}

	var reply comm.ControlReply
	if err := json.Unmarshal(rsp.Data, &reply); err != nil {
		return fmt.Errorf("decode reply: %w", err)
	}
	if !reply.OK {
		return fmt.Errorf("%s rejected: %s", msg.Type, reply.Message)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "ok: %s\n", reply.Message)
	return nil
}

func defaultIssuer() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "ctlsvc"
}
