// Copyright The NRI Plugins Authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// This file implements the interactive prompt and its commands.

package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"sigs.k8s.io/yaml"

	"github.com/containers/swappy/pkg/swappy"
	"github.com/containers/swappy/pkg/utils/bytesize"
)

// Cmd is a prompt command with a description and a function to run it.
type Cmd struct {
	description string
	usage       string
	Run         func([]string) CommandStatus
}

// CommandStatus is the result of running a command.
type CommandStatus int

const (
	csOk CommandStatus = iota
	csUnknownCommand
	csUsageError
	csError
)

// Prompt reads commands and runs them against a swappy session.
type Prompt struct {
	r           *bufio.Reader
	w           *bufio.Writer
	f           *flag.FlagSet
	session     *swappy.Swappy
	cmds        map[string]Cmd
	ps1         string
	echo        bool
	quit        bool
	outputMutex sync.Mutex
	// interruptible returns a context cancelled by an interrupt.
	interruptible func() (context.Context, context.CancelFunc)
}

// NewPrompt creates a prompt for the given session.
func NewPrompt(ps1 string, reader io.Reader, writer io.Writer, session *swappy.Swappy) *Prompt {
	p := &Prompt{
		r:       bufio.NewReader(reader),
		w:       bufio.NewWriter(writer),
		ps1:     ps1,
		session: session,
		interruptible: func() (context.Context, context.CancelFunc) {
			return signal.NotifyContext(context.Background(), os.Interrupt)
		},
	}
	p.cmds = map[string]Cmd{
		"memstat":        {"show physical memory usage.", "", p.cmdMemstat},
		"swap-info":      {"show swap accounting information.", "", p.cmdSwapInfo},
		"swap-mappings":  {"show mappings created by swappy.", "", p.cmdSwapMappings},
		"swap-reserve":   {"create a new swap mapping.", "SIZE", p.cmdSwapReserve},
		"swap-noreserve": {"create a new swap mapping with NORESERVE.", "SIZE", p.cmdSwapNoReserve},
		"swap-rm":        {"remove a swap mapping.", "ADDR", p.cmdSwapRm},
		"swap-touch":     {"touch pages in a swap mapping to allocate them.", "ADDR", p.cmdSwapTouch},
		"kstat-dump":     {"dump kstats of potential interest.", "", p.cmdKstatDump},
		"help":           {"print help.", "", p.cmdHelp},
		"q":              {"quit interactive prompt.", "", p.cmdQuit},
		"quit":           {"quit interactive prompt.", "", p.cmdQuit},
	}
	return p
}

// SetEcho sets whether commands read are echoed to the output.
func (p *Prompt) SetEcho(echo bool) {
	p.echo = echo
}

func (p *Prompt) output(format string, a ...interface{}) {
	p.outputMutex.Lock()
	defer p.outputMutex.Unlock()
	if p.w == nil {
		return
	}
	_, _ = p.w.WriteString(fmt.Sprintf(format, a...))
	p.w.Flush()
}

func (p *Prompt) fail(err error) CommandStatus {
	p.output("error: %v\n", err)
	return csError
}

// RunCmdSlice runs a command given as a slice of words.
func (p *Prompt) RunCmdSlice(cmdSlice []string) CommandStatus {
	if len(cmdSlice) == 0 || cmdSlice[0] == "" {
		return csOk
	}
	cmd, ok := p.cmds[cmdSlice[0]]
	if !ok {
		p.output("unknown command %q\n", cmdSlice[0])
		return csUnknownCommand
	}
	p.f = flag.NewFlagSet(cmdSlice[0], flag.ContinueOnError)
	p.f.SetOutput(p.w)
	p.f.Usage = func() {
		p.output("usage: %s %s\n", cmdSlice[0], cmd.usage)
		p.f.PrintDefaults()
	}
	return cmd.Run(cmdSlice[1:])
}

// RunCmdString runs a command given as a single line.
func (p *Prompt) RunCmdString(cmdString string) CommandStatus {
	return p.RunCmdSlice(strings.Fields(cmdString))
}

// Interact reads and runs commands until quit or end of input.
func (p *Prompt) Interact() {
	p.quit = false
	for !p.quit {
		p.output(p.ps1)
		cmdString, err := p.r.ReadString('\n')
		if err != nil {
			if err != io.EOF {
				p.output("quit: %s\n", err)
			} else if cmdString != "" {
				p.RunCmdString(cmdString)
			}
			break
		}
		if p.echo {
			p.output("%s", cmdString)
		}
		p.RunCmdString(cmdString)
	}
	p.output("\n")
}

// parseArgs parses flags and returns the single positional argument.
func (p *Prompt) parseArgs(args []string, name string) (string, bool) {
	if err := p.f.Parse(args); err != nil {
		return "", false
	}
	if p.f.NArg() != 1 {
		p.output("error: missing or extra arguments, expected %s\n", name)
		p.f.Usage()
		return "", false
	}
	return p.f.Arg(0), true
}

func (p *Prompt) parseNoArgs(args []string) bool {
	if err := p.f.Parse(args); err != nil {
		return false
	}
	if p.f.NArg() != 0 {
		p.output("error: unexpected arguments %v\n", p.f.Args())
		return false
	}
	return true
}

func parseAddr(s string) (uintptr, error) {
	addr, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, errors.Wrap(err, "parsing addr")
	}
	if uint64(uintptr(addr)) != addr {
		return 0, errors.Errorf("parsing addr: %s does not fit in an address", s)
	}
	return uintptr(addr), nil
}

func (p *Prompt) cmdMemstat(args []string) CommandStatus {
	if !p.parseNoArgs(args) {
		return csUsageError
	}
	out, err := p.session.Memstat(context.Background())
	if err != nil {
		return p.fail(errors.Wrap(err, "memstat"))
	}
	p.output("%s", out)
	return csOk
}

func (p *Prompt) cmdSwapInfo(args []string) CommandStatus {
	if !p.parseNoArgs(args) {
		return csUsageError
	}
	info, err := p.swapInfo()
	if err != nil {
		return p.fail(err)
	}
	p.output("%s\n", info)
	return csOk
}

func (p *Prompt) swapInfo() (string, error) {
	info, err := p.session.SwapInfo()
	if err != nil {
		return "", errors.Wrap(err, "fetching swap info")
	}
	return info.Format(), nil
}

func (p *Prompt) cmdSwapMappings(args []string) CommandStatus {
	if !p.parseNoArgs(args) {
		return csUsageError
	}
	p.output("%s", p.formatMappings())
	return csOk
}

func (p *Prompt) formatMappings() string {
	var b strings.Builder

	b.WriteString("SWAPPY-CREATED MAPPINGS\n")
	fmt.Fprintf(&b, "%-18s  %-11s  %-10s %-9s %s\n", "ADDR", "SIZE (B)", "SIZE (GiB)", "NORESERVE", "ALLOCATED")
	p.session.ForeachMapping(func(m swappy.Mapping) bool {
		noreserve, allocated := "", ""
		if !m.Reserved {
			noreserve = "NORESERVE"
		}
		if m.Allocated {
			allocated = "ALLOCATED"
		}
		fmt.Fprintf(&b, "%#-18x  %11d  %10s %-9s %s\n", m.Addr, m.Size,
			bytesize.GiBString(m.Size), noreserve, allocated)
		return true
	})

	return b.String()
}

func (p *Prompt) cmdSwapReserve(args []string) CommandStatus {
	return p.createMapping(args, true)
}

func (p *Prompt) cmdSwapNoReserve(args []string) CommandStatus {
	return p.createMapping(args, false)
}

func (p *Prompt) createMapping(args []string, reserved bool) CommandStatus {
	sizeStr, ok := p.parseArgs(args, "SIZE")
	if !ok {
		return csUsageError
	}
	size, err := bytesize.Parse(sizeStr)
	if err != nil {
		return p.fail(errors.Wrap(err, "parsing size"))
	}

	var addr uintptr
	if reserved {
		addr, err = p.session.Reserve(size)
	} else {
		addr, err = p.session.NoReserve(size)
	}
	if err != nil {
		return p.fail(err)
	}

	p.output("new mapping: %#x\n\n", addr)
	info, err := p.swapInfo()
	if err != nil {
		return p.fail(err)
	}
	p.output("%s\n\n%s", info, p.formatMappings())
	return csOk
}

func (p *Prompt) cmdSwapRm(args []string) CommandStatus {
	addrStr, ok := p.parseArgs(args, "ADDR")
	if !ok {
		return csUsageError
	}
	addr, err := parseAddr(addrStr)
	if err != nil {
		return p.fail(err)
	}
	if err := p.session.Remove(addr); err != nil {
		return p.fail(err)
	}

	info, err := p.swapInfo()
	if err != nil {
		return p.fail(err)
	}
	p.output("%s\n", info)
	return csOk
}

func (p *Prompt) cmdSwapTouch(args []string) CommandStatus {
	addrStr, ok := p.parseArgs(args, "ADDR")
	if !ok {
		return csUsageError
	}
	addr, err := parseAddr(addrStr)
	if err != nil {
		return p.fail(err)
	}

	ctx, cancel := p.interruptible()
	firstTouch, err := p.session.Touch(ctx, addr)
	cancel()
	if err != nil {
		return p.fail(err)
	}

	if !firstTouch {
		p.output("warning: pages were already touched\n")
	}
	info, err := p.swapInfo()
	if err != nil {
		return p.fail(err)
	}
	p.output("%s\n", info)
	return csOk
}

func (p *Prompt) cmdKstatDump(args []string) CommandStatus {
	if !p.parseNoArgs(args) {
		return csUsageError
	}
	physmem, err := p.session.PhysicalMemory()
	if err != nil {
		return p.fail(errors.Wrap(err, "reading kstats"))
	}
	out, err := yaml.Marshal(map[string]interface{}{"system_pages": physmem})
	if err != nil {
		return p.fail(errors.Wrap(err, "formatting kstats"))
	}
	p.output("%s", out)
	return csOk
}

func (p *Prompt) cmdHelp(args []string) CommandStatus {
	p.output("Available commands:\n")
	names := make([]string, 0, len(p.cmds))
	for name := range p.cmds {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		cmd := p.cmds[name]
		p.output("        %-16s %s\n", strings.TrimSpace(name+" "+cmd.usage), cmd.description)
	}
	return csOk
}

func (p *Prompt) cmdQuit(args []string) CommandStatus {
	p.quit = true
	return csOk
}
