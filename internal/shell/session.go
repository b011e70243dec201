package shell

import (
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/creack/pty"
)

// session is the single persistent OS-level interactive shell, attached to
// a pseudo-terminal. It is owned exclusively by the Manager; nothing else
// touches the process handle or the terminal descriptor.
type session struct {
	cmd  *exec.Cmd
	ptmx *os.File

	// out carries raw terminal output from the read pump. The pump closes
	// it when the underlying read fails, which is how session death is
	// observed without blocking.
	out chan []byte

	// dead is closed by the read pump on exit.
	dead chan struct{}
}

// startSession spawns an interactive shell on a fresh PTY with prompt and
// echo suppressed, so the output stream carries only command output and
// protocol marker lines.
func startSession(program string) (*session, error) {
	cmd := exec.Command(program)
	cmd.Env = append(os.Environ(),
		"TERM=dumb",
		"PS1=",
		"PS2=",
		"PROMPT_COMMAND=",
	)

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: 40, Cols: 200})
	if err != nil {
		return nil, fmt.Errorf("failed to start shell on pty: %w", err)
	}

	s := &session{
		cmd:  cmd,
		ptmx: ptmx,
		out:  make(chan []byte, 64),
		dead: make(chan struct{}),
	}
	go s.readPump()

	// The shell may still echo input until stty takes effect, so this runs
	// before the first command is written.
	init := "stty -echo 2>/dev/null; PS1=''; PS2=''; unset PROMPT_COMMAND\n"
	if _, err := s.ptmx.Write([]byte(init)); err != nil {
		s.close()
		return nil, fmt.Errorf("failed to initialize shell session: %w", err)
	}

	return s, nil
}

// readPump continuously reads the terminal and forwards chunks.
func (s *session) readPump() {
	defer close(s.dead)
	defer close(s.out)
	buf := make([]byte, 4096)
	for {
		n, err := s.ptmx.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			s.out <- chunk
		}
		if err != nil {
			return
		}
	}
}

// drain discards output left over from a previous command without blocking.
func (s *session) drain() {
	for {
		select {
		case _, ok := <-s.out:
			if !ok {
				return
			}
		default:
			return
		}
	}
}

// write sends bytes to the shell's input.
func (s *session) write(p []byte) error {
	_, err := s.ptmx.Write(p)
	return err
}

// alive reports whether the read pump is still attached to a live shell.
func (s *session) alive() bool {
	select {
	case <-s.dead:
		return false
	default:
		return true
	}
}

// close tears the session down: asks the shell to exit, closes the
// terminal descriptor and reaps the process, escalating to a kill if the
// shell does not exit promptly.
func (s *session) close() {
	// Unblock the pump if it is mid-send with nobody reading.
	go func() {
		for range s.out {
		}
	}()

	// Best effort; the shell may already be gone.
	_, _ = s.ptmx.Write([]byte("exit\n"))
	_ = s.ptmx.Close()

	done := make(chan struct{})
	go func() {
		_ = s.cmd.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		_ = s.cmd.Process.Kill()
		<-done
	}
}
