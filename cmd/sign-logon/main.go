package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/uhyunpark/fixsession/params"
	"github.com/uhyunpark/fixsession/pkg/auth"
	"github.com/uhyunpark/fixsession/pkg/fix"
	"github.com/uhyunpark/fixsession/pkg/trader"
)

// sign-logon derives the Logon password offline, for comparing against what
// the counterparty expects when a logon is rejected.
func main() {
	cfg := params.LoadFromEnv("")

	mnemonic := flag.String("mnemonic", "", "trading mnemonic (SenderCompID is <mnemonic>_8)")
	sender := flag.String("sender", "", "SenderCompID, overrides -mnemonic")
	target := flag.String("target", cfg.FIX.TargetCompID, "TargetCompID")
	seq := flag.Uint64("seq", 1, "MsgSeqNum of the Logon")
	sendingTime := flag.String("time", "", "SendingTime as YYYYMMDD-HH:MM:SS.sss (default: now)")
	flag.Parse()

	if cfg.Credentials.APIKeyID == "" || cfg.Credentials.APIKeySecret == "" {
		fmt.Println("Error: TRUEX_CLIENT_API_KEY_ID and TRUEX_CLIENT_API_KEY_SECRET must be set")
		os.Exit(1)
	}
	senderCompID := *sender
	if senderCompID == "" {
		if *mnemonic == "" && len(cfg.Credentials.Mnemonics) > 0 {
			*mnemonic = cfg.Credentials.Mnemonics[0]
		}
		if *mnemonic == "" {
			fmt.Println("Error: pass -mnemonic or -sender")
			os.Exit(1)
		}
		senderCompID = trader.SenderCompID(*mnemonic)
	}
	if *sendingTime == "" {
		*sendingTime = fix.FormatUTCTimestamp(time.Now())
	} else if _, err := fix.ParseUTCTimestamp(*sendingTime); err != nil {
		fmt.Printf("Error: -time: %v\n", err)
		os.Exit(1)
	}

	m := fix.NewMessage(fix.MsgTypeLogon).
		Set(fix.TagBeginString, cfg.FIX.BeginString).
		Set(fix.TagSenderCompID, senderCompID).
		Set(fix.TagTargetCompID, *target).
		SetUint(fix.TagMsgSeqNum, *seq).
		Set(fix.TagSendingTime, *sendingTime).
		Set(fix.TagEncryptMethod, "0").
		SetInt(fix.TagHeartBtInt, int(cfg.FIX.HeartBtInt/time.Second))
	if cfg.FIX.ResetSeqNum {
		m.SetBool(fix.TagResetSeqNumFlag, true)
	}
	m.Set(fix.TagDefaultApplVerID, cfg.FIX.DefaultApplVerID)

	signer := auth.NewSigner(auth.Credentials{
		APIKeyID:     cfg.Credentials.APIKeyID,
		APIKeySecret: cfg.Credentials.APIKeySecret,
	}, nil)
	if err := signer.SignLogon(m); err != nil {
		fmt.Printf("Error signing: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Signing inputs:")
	fmt.Printf("  SendingTime:  %s\n", *sendingTime)
	fmt.Printf("  MsgType:      %s\n", fix.MsgTypeLogon)
	fmt.Printf("  MsgSeqNum:    %d\n", *seq)
	fmt.Printf("  SenderCompID: %s\n", senderCompID)
	fmt.Printf("  TargetCompID: %s\n", *target)
	fmt.Printf("  Username:     %s\n\n", signer.Username())

	fmt.Printf("Password (554): %s\n\n", m.GetString(fix.TagPassword))

	raw, err := fix.Encode(m)
	if err != nil {
		fmt.Printf("Error encoding: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Logon (wire form):")
	fmt.Println(strings.ReplaceAll(string(raw), "\x01", "|"))
}
