package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/arzzra/callcontrol/pkg/session"
)

const helpText = `команды:
  call <номер>           исходящий вызов
  p2p <пользователь>     режим без регистратора
  p2pcall <номер> <ip>   прямой вызов
  answer | hold | resume | end
  dtmf <цифры>           отправить DTMF
  set <ключ> <значение>  задать свойство
  get <ключ>             прочитать свойство
  register | unregister | status
  quit`

// shell построчный интерпретатор команд софтфона.
type shell struct {
	ctrl *session.Controller
	out  io.Writer
	reg  session.Registration
}

func newShell(ctrl *session.Controller, out io.Writer, reg session.Registration) *shell {
	return &shell{ctrl: ctrl, out: out, reg: reg}
}

// run читает команды до quit, конца ввода или отмены ctx.
func (s *shell) run(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			quit, err := s.exec(ctx, line)
			if err != nil {
				fmt.Fprintf(s.out, "! %v\n", err)
			}
			if quit {
				return nil
			}
		}
	}
}

// exec выполняет одну команду. quit сообщает о завершении сеанса.
func (s *shell) exec(ctx context.Context, line string) (quit bool, err error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}
	cmd, args := strings.ToLower(fields[0]), fields[1:]
	need := func(n int) error {
		if len(args) < n {
			return fmt.Errorf("%s: ожидается аргументов: %d", cmd, n)
		}
		return nil
	}

	switch cmd {
	case "quit", "exit":
		return true, nil
	case "help":
		fmt.Fprintln(s.out, helpText)
	case "call":
		if err := need(1); err != nil {
			return false, err
		}
		return false, s.ctrl.PlaceCall(ctx, args[0])
	case "p2p":
		if err := need(1); err != nil {
			return false, err
		}
		return false, s.ctrl.StartP2PMode(ctx, args[0])
	case "p2pcall":
		if err := need(2); err != nil {
			return false, err
		}
		return false, s.ctrl.PlaceP2PCall(ctx, args[0], args[1])
	case "answer":
		return false, s.ctrl.AnswerCall(ctx)
	case "hold":
		return false, s.ctrl.HoldCall(ctx)
	case "resume":
		return false, s.ctrl.ResumeCall(ctx)
	case "end", "hangup":
		return false, s.ctrl.EndCall(ctx)
	case "dtmf":
		if err := need(1); err != nil {
			return false, err
		}
		return false, s.ctrl.SendDigits(ctx, strings.Join(args, ""))
	case "set":
		if err := need(2); err != nil {
			return false, err
		}
		s.ctrl.SetProperty(args[0], args[1])
	case "get":
		if err := need(1); err != nil {
			return false, err
		}
		fmt.Fprintln(s.out, s.ctrl.Property(args[0]))
	case "register":
		return false, s.ctrl.Register(ctx, s.reg)
	case "unregister":
		return false, s.ctrl.Unregister(ctx)
	case "status":
		s.status()
	default:
		return false, fmt.Errorf("неизвестная команда %q, см. help", cmd)
	}
	return false, nil
}

func (s *shell) status() {
	sess, ok := s.ctrl.Session()
	if !ok {
		fmt.Fprintln(s.out, "нет сессии")
		return
	}
	mode := "registrar"
	if sess.P2P {
		mode = "p2p"
	}
	fmt.Fprintf(s.out, "%s@%s %s registered=%t ip=%s call=%t\n",
		sess.User, sess.Domain, mode, sess.Registered, sess.LocalIP, s.ctrl.CallInProgress())
}
