package commands

import (
	"bufio"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"vtopassist-backend/internal/auth"
	"vtopassist-backend/internal/components/chrono"
	"vtopassist-backend/internal/components/telemetry"
	"vtopassist-backend/internal/session"
	"vtopassist-backend/internal/sessionrecord"
	"vtopassist-backend/internal/vtop"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var loginFlags struct {
	baseUrl     string
	username    string
	semester    string
	captchaPath string
	strategy    string
	timeout     time.Duration
	record      string
	json        bool
}

func init() {
	flags := loginCmd.Flags()
	flags.StringVar(&loginFlags.baseUrl, "base-url", vtop.DefaultBaseUrl, "The portal's base url.")
	flags.StringVarP(&loginFlags.username, "username", "u", "", "Registration number, prompted for when empty.")
	flags.StringVar(&loginFlags.semester, "semester", "", "Semester id, the latest one when empty.")
	flags.StringVar(&loginFlags.captchaPath, "captcha", "captcha", "Where to write the CAPTCHA image, the extension is added.")
	flags.StringVar(&loginFlags.strategy, "strategy", string(vtop.StrategyAuto), "How to reach the login form: auto, direct or warmup.")
	flags.DurationVar(&loginFlags.timeout, "timeout", vtop.DefaultTimeout, "Timeout of each portal request.")
	flags.StringVar(&loginFlags.record, "record", "", "Persist the session to this file and reuse it on the next run.")
	flags.BoolVar(&loginFlags.json, "json", false, "Print the schedule as JSON instead of tables.")
	rootCmd.AddCommand(loginCmd)
}

// captchaFile decodes a data url into raw image bytes and a file extension.
func captchaFile(dataUrl string) ([]byte, string, error) {
	header, payload, ok := strings.Cut(dataUrl, ",")
	if !ok || !strings.HasPrefix(header, "data:image/") {
		return nil, "", errors.New("captcha is not an image data url")
	}
	ext := strings.TrimPrefix(header, "data:image/")
	ext, _, _ = strings.Cut(ext, ";")
	if ext == "jpeg" {
		ext = "jpg"
	}
	image, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", fmt.Errorf("decode captcha: %w", err)
	}
	return image, ext, nil
}

func writeCaptcha(out io.Writer, dataUrl string) error {
	image, ext, err := captchaFile(dataUrl)
	if err != nil {
		return err
	}
	path := loginFlags.captchaPath + "." + ext
	err = os.WriteFile(path, image, 0644)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "CAPTCHA written to %s\n", path)
	return nil
}

func prompt(in *bufio.Reader, out io.Writer, label string) (string, error) {
	fmt.Fprintf(out, "%s: ", label)
	line, err := in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// promptSecret reads without echo when raw is a terminal, other inputs are
// read line by line through in.
func promptSecret(raw io.Reader, in *bufio.Reader, out io.Writer, label string) (string, error) {
	f, ok := raw.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return prompt(in, out, label)
	}
	fmt.Fprintf(out, "%s: ", label)
	secret, err := term.ReadPassword(int(f.Fd()))
	fmt.Fprintln(out)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(secret)), nil
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Logs into VTOP interactively and prints the timetable.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		out := cmd.OutOrStdout()
		in := bufio.NewReader(cmd.InOrStdin())
		tel := telemetry.SlogAPI{}

		strategy, err := vtop.ParseStrategy(loginFlags.strategy)
		if err != nil {
			return err
		}
		clock, err := chrono.NewStandardImpl("")
		if err != nil {
			return err
		}

		var records sessionrecord.Store = sessionrecord.NoopStore{}
		if loginFlags.record != "" {
			records = sessionrecord.NewFileStore(loginFlags.record, tel)
		}
		service := auth.NewService(
			session.NewStore(clock, tel, session.Options{}),
			records,
			func() (vtop.Portal, error) {
				return vtop.NewClient(vtop.Options{
					BaseUrl:  loginFlags.baseUrl,
					Timeout:  loginFlags.timeout,
					Strategy: strategy,
				}, tel)
			},
			clock,
			tel,
		)

		id := ""
		if loginFlags.record != "" {
			check, err := service.CheckSession(ctx, "")
			if err == nil {
				fmt.Fprintln(out, check.Message)
				id = check.SessionID
			}
		}

		if id == "" {
			id, err = interactiveLogin(cmd, service, in)
			if err != nil {
				return err
			}
		}

		res, err := service.FetchData(ctx, id, vtop.TimetableTarget, loginFlags.semester)
		if err != nil {
			return fmt.Errorf("fetch timetable: %w", err)
		}
		return renderSchedule(out, *res.Schedule, loginFlags.json)
	},
}

func interactiveLogin(cmd *cobra.Command, service *auth.Service, in *bufio.Reader) (string, error) {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	start, err := service.StartLogin(ctx)
	if err != nil {
		return "", fmt.Errorf("start login: %w", err)
	}

	username := loginFlags.username
	if username == "" {
		username, err = prompt(in, out, "Username")
		if err != nil {
			return "", err
		}
	}
	password := os.Getenv("VTOP_PASSWORD")
	if password == "" {
		password, err = promptSecret(cmd.InOrStdin(), in, out, "Password")
		if err != nil {
			return "", err
		}
	}

	captchaImage := start.CaptchaImage
	for {
		err = writeCaptcha(out, captchaImage)
		if err != nil {
			return "", err
		}
		captcha, err := prompt(in, out, "CAPTCHA")
		if err != nil {
			return "", err
		}

		res, err := service.Attempt(ctx, start.SessionID, username, password, captcha)
		if err != nil {
			return "", fmt.Errorf("login: %w", err)
		}
		if res.Success {
			fmt.Fprintln(out, res.Message)
			return res.SessionID, nil
		}

		fmt.Fprintf(out, "%s (%s)\n", res.Message, res.Reason)
		if res.Reason == auth.ReasonInvalidCredentials {
			password, err = promptSecret(cmd.InOrStdin(), in, out, "Password")
			if err != nil {
				return "", err
			}
		}
		captchaImage = res.CaptchaImage
	}
}
