// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package command

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/NHR-FAU/kvstore/internal/resp"
	"github.com/NHR-FAU/kvstore/internal/streamstore"
)

// UnknownCommandError is returned for a recognized-shape array whose
// first element does not match any known verb.
type UnknownCommandError struct {
	Name string
}

func (e UnknownCommandError) Error() string {
	return fmt.Sprintf("ERR unknown command '%s'", e.Name)
}

// ArityError is returned when a verb is recognized but the argument
// count or flags don't match what it requires.
type ArityError struct {
	Verb string
}

func (e ArityError) Error() string {
	return fmt.Sprintf("ERR wrong number of arguments for '%s' command", strings.ToLower(e.Verb))
}

func argString(v resp.Value) string {
	switch v.Kind {
	case resp.Bulk:
		return string(v.Bulk)
	case resp.Simple, resp.Error:
		return v.Str
	default:
		return ""
	}
}

// Parse walks a decoded array of command arguments and returns the
// matching Command, rejecting unrecognized verbs and malformed arities
// early.
func Parse(elems []resp.Value) (Command, error) {
	if len(elems) == 0 {
		return nil, ArityError{Verb: ""}
	}

	args := make([]string, len(elems))
	for i, e := range elems {
		args[i] = argString(e)
	}
	verb := strings.ToUpper(args[0])

	switch verb {
	case "PING":
		if len(args) >= 2 {
			return Ping{Message: []byte(args[1]), HasMsg: true}, nil
		}
		return Ping{}, nil

	case "ECHO":
		if len(args) != 2 {
			return nil, ArityError{Verb: verb}
		}
		return Echo{Message: []byte(args[1])}, nil

	case "SET":
		return parseSet(args)

	case "GET":
		if len(args) != 2 {
			return nil, ArityError{Verb: verb}
		}
		return Get{Key: args[1]}, nil

	case "DEL":
		if len(args) < 2 {
			return nil, ArityError{Verb: verb}
		}
		return Del{Keys: args[1:]}, nil

	case "EXISTS":
		if len(args) < 2 {
			return nil, ArityError{Verb: verb}
		}
		return Exists{Keys: args[1:]}, nil

	case "KEYS":
		if len(args) != 2 || args[1] != "*" {
			return nil, fmt.Errorf("ERR KEYS only supports the literal '*' pattern")
		}
		return Keys{Pattern: args[1]}, nil

	case "TYPE":
		if len(args) != 2 {
			return nil, ArityError{Verb: verb}
		}
		return TypeKey{Key: args[1]}, nil

	case "XADD":
		return parseXAdd(args)

	case "XRANGE":
		if len(args) != 4 {
			return nil, ArityError{Verb: verb}
		}
		return XRange{Key: args[1], Start: args[2], End: args[3]}, nil

	case "XREAD":
		return parseXRead(args)

	case "INFO":
		if len(args) != 2 || !strings.EqualFold(args[1], "replication") {
			return nil, fmt.Errorf("ERR unsupported INFO section")
		}
		return InfoReplication{}, nil

	case "REPLCONF":
		if len(args) < 2 {
			return nil, ArityError{Verb: verb}
		}
		return ReplConf{Args: args[1:]}, nil

	case "PSYNC":
		if len(args) != 3 {
			return nil, ArityError{Verb: verb}
		}
		return Psync{ReplID: args[1], Offset: args[2]}, nil

	case "WAIT":
		if len(args) != 3 {
			return nil, ArityError{Verb: verb}
		}
		n, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("ERR value is not an integer or out of range")
		}
		timeout, err := strconv.ParseInt(args[2], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("ERR value is not an integer or out of range")
		}
		return Wait{NumReplicas: n, TimeoutMs: timeout}, nil

	case "CONFIG":
		if len(args) != 3 || !strings.EqualFold(args[1], "GET") {
			return nil, fmt.Errorf("ERR unsupported CONFIG subcommand")
		}
		return ConfigGet{Param: strings.ToLower(args[2])}, nil

	default:
		return nil, UnknownCommandError{Name: args[0]}
	}
}

func parseSet(args []string) (Command, error) {
	if len(args) < 3 {
		return nil, ArityError{Verb: "SET"}
	}
	cmd := Set{Key: args[1], Value: []byte(args[2])}
	rest := args[3:]
	for i := 0; i < len(rest); i++ {
		if strings.EqualFold(rest[i], "PX") {
			if i+1 >= len(rest) {
				return nil, ArityError{Verb: "SET"}
			}
			ms, err := strconv.ParseInt(rest[i+1], 10, 64)
			if err != nil || ms < 0 {
				return nil, fmt.Errorf("ERR value is not an integer or out of range")
			}
			cmd.HasPX = true
			cmd.PXMilli = ms
			i++
			continue
		}
		return nil, fmt.Errorf("ERR syntax error")
	}
	return cmd, nil
}

func parseXAdd(args []string) (Command, error) {
	// verb key id field value [field value ...]
	if len(args) < 5 || (len(args)-3)%2 != 0 {
		return nil, ArityError{Verb: "XADD"}
	}
	fieldArgs := args[3:]
	fields := make([]streamstore.Field, 0, len(fieldArgs)/2)
	for i := 0; i < len(fieldArgs); i += 2 {
		fields = append(fields, streamstore.Field{
			Name:  []byte(fieldArgs[i]),
			Value: []byte(fieldArgs[i+1]),
		})
	}
	return XAdd{Key: args[1], IDSpec: args[2], Fields: fields}, nil
}

func parseXRead(args []string) (Command, error) {
	rest := args[1:]
	cmd := XRead{}
	for len(rest) > 0 {
		switch {
		case strings.EqualFold(rest[0], "BLOCK"):
			if len(rest) < 2 {
				return nil, ArityError{Verb: "XREAD"}
			}
			ms, err := strconv.ParseInt(rest[1], 10, 64)
			if err != nil || ms < 0 {
				return nil, fmt.Errorf("ERR timeout is not an integer or out of range")
			}
			cmd.Block = true
			cmd.BlockMilli = ms
			rest = rest[2:]
		case strings.EqualFold(rest[0], "STREAMS"):
			rest = rest[1:]
			if len(rest) == 0 || len(rest)%2 != 0 {
				return nil, fmt.Errorf("ERR Unbalanced XREAD list of streams: for each stream key an ID or '$' must be specified.")
			}
			half := len(rest) / 2
			cmd.StreamKeys = append([]string{}, rest[:half]...)
			cmd.Starts = append([]string{}, rest[half:]...)
			return cmd, nil
		default:
			return nil, fmt.Errorf("ERR syntax error")
		}
	}
	return nil, ArityError{Verb: "XREAD"}
}
