package user

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

type authenticatedUsers struct {
	users map[string]string
	mutex sync.Mutex
}

type UserManager struct {
	PwFile string
	// Cost of the bcrypt hash for new users, DefaultHashCost when zero.
	Cost               int
	users              map[string]string // keys: username / values: password hash
	usersMutex         sync.RWMutex
	authenticatedUsers *authenticatedUsers // keys: username / values: ip address
}

type Credential struct {
	Username string
	Password string
}

var (
	ErrInvalidUsername     = errors.New("username is invalid. it can contains letters, numbers and underscores but should starts with a letter")
	ErrUsernameExists      = errors.New("username exists")
	ErrEmptyPassword       = errors.New("password is empty")
	ErrPwFileContentFormat = errors.New("something is wrong with the password file content format")
	ErrBadCredential       = errors.New("invalid username or password")
	ErrAlreadyLoggedIn     = errors.New("another system has logged in with this user")
)

const (
	columnSep       = ":"
	DefaultHashCost = 14
	pwFileMode      = 0600
)

var usernameRegex = regexp.MustCompile(`^[a-zA-Z]\w*$`)

func (m *UserManager) Init() error {
	users := make(map[string]string)

	f, err := os.OpenFile(m.PwFile, os.O_CREATE|os.O_RDONLY, pwFileMode)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		userFields := strings.Split(line, columnSep)
		if len(userFields) != 2 || userFields[0] == "" || userFields[1] == "" {
			subErr := fmt.Errorf("(len: %d, fields: %v)", len(userFields), userFields)
			return errors.Join(ErrPwFileContentFormat, subErr)
		}
		users[userFields[0]] = userFields[1]
	}

	if err = scanner.Err(); err != nil {
		return err
	}

	m.usersMutex.Lock()
	m.users = users
	m.usersMutex.Unlock()
	m.authenticatedUsers = &authenticatedUsers{users: make(map[string]string)}

	return nil
}

// ValidUsername reports whether username may be stored in the password file.
func ValidUsername(username string) bool {
	return usernameRegex.MatchString(username)
}

func (m *UserManager) Exists(username string) bool {
	m.usersMutex.RLock()
	defer m.usersMutex.RUnlock()
	_, ok := m.users[username]
	return ok
}

func (m *UserManager) CreateUser(cred Credential) error {
	if !ValidUsername(cred.Username) {
		return ErrInvalidUsername
	}
	if cred.Password == "" {
		return ErrEmptyPassword
	}
	if m.Exists(cred.Username) {
		return ErrUsernameExists
	}

	hashPass, err := m.hashPassword(cred.Password)
	if err != nil {
		return err
	}

	userRecord := cred.Username + columnSep + hashPass + "\n"
	f, err := os.OpenFile(m.PwFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, pwFileMode)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err = f.WriteString(userRecord); err != nil {
		return err
	}

	m.usersMutex.Lock()
	if m.users == nil {
		m.users = make(map[string]string)
	}
	m.users[cred.Username] = hashPass
	m.usersMutex.Unlock()

	return nil
}

// DeleteUser removes username from the password file. Unknown users are
// ignored.
func (m *UserManager) DeleteUser(username string) error {
	m.usersMutex.Lock()
	defer m.usersMutex.Unlock()

	if _, ok := m.users[username]; !ok {
		return nil
	}
	delete(m.users, username)

	originalPw, err := os.OpenFile(m.PwFile, os.O_RDONLY, pwFileMode)
	if err != nil {
		return err
	}
	defer originalPw.Close()

	tmpPw, err := os.CreateTemp(filepath.Dir(m.PwFile), "pwfile_*.tmp")
	if err != nil {
		return err
	}
	defer tmpPw.Close()
	defer os.Remove(tmpPw.Name())

	scanner := bufio.NewScanner(originalPw)
	writer := bufio.NewWriter(tmpPw)

	for scanner.Scan() {
		line := scanner.Text()
		userFields := strings.Split(line, columnSep)

		if len(userFields) != 2 || userFields[0] == "" || userFields[1] == "" || userFields[0] == username {
			continue
		}

		if _, err = writer.WriteString(line + "\n"); err != nil {
			return err
		}
	}

	if err := scanner.Err(); err != nil {
		return err
	}

	if err := writer.Flush(); err != nil {
		return err
	}

	if err := os.Rename(tmpPw.Name(), m.PwFile); err != nil {
		return err
	}

	return os.Chmod(m.PwFile, pwFileMode)
}

func (m *UserManager) CheckUserPassword(username, password string) bool {
	m.usersMutex.RLock()
	passwordHash, ok := m.users[username]
	m.usersMutex.RUnlock()

	if ok {
		return m.checkPasswordHash(password, passwordHash)
	}

	return false
}

func (m *UserManager) CheckUserIP(username, ipAddr string) bool {
	m.authenticatedUsers.mutex.Lock()
	defer m.authenticatedUsers.mutex.Unlock()
	if userIP, ok := m.authenticatedUsers.users[username]; ok {
		return ipAddr == userIP
	}
	return false
}

// Authenticate checks the credential and marks the user as logged in from
// ip. A user can hold a single session at a time.
func (m *UserManager) Authenticate(username, password, ip string) error {
	if !m.CheckUserPassword(username, password) {
		return ErrBadCredential
	}
	if !m.SetAuthenticatedUser(username, ip) {
		return ErrAlreadyLoggedIn
	}
	return nil
}

// Set username/ip to the authenticated users map.
// returns false if the user not exists or it already exists in authenticated users map.
func (m *UserManager) SetAuthenticatedUser(username, ip string) (ok bool) {
	if !m.Exists(username) {
		return false
	}

	m.authenticatedUsers.mutex.Lock()
	defer m.authenticatedUsers.mutex.Unlock()
	if _, ok := m.authenticatedUsers.users[username]; !ok {
		m.authenticatedUsers.users[username] = ip
		return true
	}

	return false
}

// Removes username from authenticated users map.
func (m *UserManager) UnsetAuthenticatedUser(username string) {
	m.authenticatedUsers.mutex.Lock()
	defer m.authenticatedUsers.mutex.Unlock()
	delete(m.authenticatedUsers.users, username)
}

func (m *UserManager) hashPassword(password string) (string, error) {
	cost := m.Cost
	if cost == 0 {
		cost = DefaultHashCost
	}
	byts, err := bcrypt.GenerateFromPassword([]byte(password), cost)

	return string(byts), err
}

func (m *UserManager) checkPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}
