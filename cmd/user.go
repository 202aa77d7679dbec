package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ManouchehrRasoulli/fsevents/pkg"
	"github.com/ManouchehrRasoulli/fsevents/pkg/logger"
	"github.com/ManouchehrRasoulli/fsevents/pkg/user"
	"github.com/spf13/cobra"
)

var ErrPasswordMismatch = errors.New("password does not match")

const maxPromptAttempts = 3

func (a *app) createUserCommand() *cobra.Command {
	var pwFile string
	var cost int

	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage the users of the server password file",
	}
	cmd.PersistentFlags().StringVar(&pwFile, "pwfile", "", "password file, defaults to server.pwfile of the configuration.")

	manager := func() (*user.UserManager, error) {
		file := pwFile
		if file == "" && a.config != "" {
			cfg, err := pkg.LoadConfig(a.config, "", nil)
			if err != nil {
				return nil, err
			}
			file = cfg.Server.PwFile
		}
		if file == "" {
			return nil, errors.New("no password file given")
		}

		um := &user.UserManager{PwFile: file, Cost: cost}
		if err := um.Init(); err != nil {
			a.clg.Printcf(logger.ColorRed, "server error : failed user manager initialization. %v", err)
			return nil, err
		}
		return um, nil
	}

	create := &cobra.Command{
		Use:   "create",
		Short: "Add a user, asking for its name and password",
		RunE: func(cmd *cobra.Command, args []string) error {
			um, err := manager()
			if err != nil {
				return err
			}

			cred, err := promptCredential(bufio.NewScanner(cmd.InOrStdin()), cmd.OutOrStdout(), um)
			if err != nil {
				a.clg.Printcf(logger.ColorRed, "server error : failed to create user. %v", err)
				return err
			}
			if err = um.CreateUser(cred); err != nil {
				a.clg.Printcf(logger.ColorRed, "server error : failed to create user. %v", err)
				return err
			}
			a.clg.Printcf(logger.ColorGreen, "user : %s created", cred.Username)
			return nil
		},
	}
	create.Flags().IntVar(&cost, "cost", user.DefaultHashCost, "bcrypt cost of the stored hash.")

	del := &cobra.Command{
		Use:   "delete [username]",
		Short: "Remove a user",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			um, err := manager()
			if err != nil {
				return err
			}

			var username string
			if len(args) == 1 {
				username = args[0]
			} else if username, err = prompt(bufio.NewScanner(cmd.InOrStdin()), cmd.OutOrStdout(), "Enter username: "); err != nil {
				return err
			}

			if !um.Exists(username) {
				a.clg.Printcf(logger.ColorYellow, "user : %s does not exist", username)
				return nil
			}
			if err = um.DeleteUser(username); err != nil {
				a.clg.Printcf(logger.ColorRed, "server error : failed to delete user. %v", err)
				return err
			}
			a.clg.Printcf(logger.ColorGreen, "user : %s deleted", username)
			return nil
		},
	}

	cmd.AddCommand(create, del)
	return cmd
}

func prompt(in *bufio.Scanner, out io.Writer, msg string) (string, error) {
	fmt.Fprint(out, msg)
	if !in.Scan() {
		if err := in.Err(); err != nil {
			return "", err
		}
		return "", io.ErrUnexpectedEOF
	}
	return strings.TrimSpace(in.Text()), nil
}

func promptCredential(in *bufio.Scanner, out io.Writer, um *user.UserManager) (user.Credential, error) {
	cred := user.Credential{}

	for attempt := 0; ; attempt++ {
		if attempt == maxPromptAttempts {
			return cred, user.ErrInvalidUsername
		}

		username, err := prompt(in, out, "Enter username: ")
		if err != nil {
			return cred, err
		}
		if !user.ValidUsername(username) {
			fmt.Fprintln(out, user.ErrInvalidUsername)
			continue
		}
		if um.Exists(username) {
			fmt.Fprintln(out, user.ErrUsernameExists)
			continue
		}
		cred.Username = username
		break
	}

	password, err := prompt(in, out, fmt.Sprintf("Password for %s: ", cred.Username))
	if err != nil {
		return cred, err
	}
	confirm, err := prompt(in, out, fmt.Sprintf("Confirm password for %s: ", cred.Username))
	if err != nil {
		return cred, err
	}
	if password != confirm {
		return cred, ErrPasswordMismatch
	}

	cred.Password = password
	return cred, nil
}
