package main

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drainAllLines(u *User) []string {
	var out []string
	for {
		select {
		case line := <-u.LocalUser.WriteChan:
			out = append(out, line)
		default:
			return out
		}
	}
}

func anyLineContains(lines []string, substr string) bool {
	for _, l := range lines {
		if strings.Contains(l, substr) {
			return true
		}
	}
	return false
}

func TestKickCommandRemovesTarget(t *testing.T) {
	cb := newTestCatbox()
	alice := newTestLocalUser(cb, "alice")
	bob := newTestLocalUser(cb, "bob")
	require.NoError(t, joinUserToChannel(cb, alice, "#test", ""))
	require.NoError(t, joinUserToChannel(cb, bob, "#test", ""))
	ch, _ := cb.findChannel("#test")
	drainAllLines(alice)
	drainAllLines(bob)

	kickCommand(cb, alice, []string{"#test", "bob", "begone"})

	_, on := bob.onChannel(ch)
	assert.False(t, on)
	_, stillMember := ch.Members[bob.UID]
	assert.False(t, stillMember)
	assert.True(t, anyLineContains(drainAllLines(bob), "KICK #test bob :begone"))
}

func TestKickCommandRequiresChannelOp(t *testing.T) {
	cb := newTestCatbox()
	alice := newTestLocalUser(cb, "alice")
	bob := newTestLocalUser(cb, "bob")
	require.NoError(t, joinUserToChannel(cb, alice, "#test", ""))
	require.NoError(t, joinUserToChannel(cb, bob, "#test", ""))
	ch, _ := cb.findChannel("#test")
	drainAllLines(bob)

	kickCommand(cb, bob, []string{"#test", "alice"})

	_, on := alice.onChannel(ch)
	assert.True(t, on, "a non-op kick must not remove anyone")
	assert.True(t, anyLineContains(drainAllLines(bob), "482"))
}

func TestKickCommandDestroysEmptiedChannel(t *testing.T) {
	cb := newTestCatbox()
	alice := newTestLocalUser(cb, "alice")
	bob := newTestLocalUser(cb, "bob")
	require.NoError(t, joinUserToChannel(cb, alice, "#test", ""))
	require.NoError(t, joinUserToChannel(cb, bob, "#test", ""))

	kickCommand(cb, alice, []string{"#test", "bob"})
	partCommand(cb, alice, []string{"#test"})

	_, exists := cb.findChannel("#test")
	assert.False(t, exists, "the last member's departure destroys the channel")
}

func TestInviteBypassesInviteOnly(t *testing.T) {
	cb := newTestCatbox()
	alice := newTestLocalUser(cb, "alice")
	bob := newTestLocalUser(cb, "bob")
	require.NoError(t, joinUserToChannel(cb, alice, "#test", ""))
	ch, _ := cb.findChannel("#test")
	ch.Simple |= ModeInviteOnly
	drainAllLines(bob)

	assert.Error(t, joinUserToChannel(cb, bob, "#test", ""))
	assert.True(t, anyLineContains(drainAllLines(bob), "473"))

	inviteCommand(cb, alice, []string{"bob", "#test"})
	assert.True(t, anyLineContains(drainAllLines(bob), "INVITE bob :#test"))

	assert.NoError(t, joinUserToChannel(cb, bob, "#test", ""))
	_, invitedStill := ch.Invites[bob.UID]
	assert.False(t, invitedStill, "the invitation is consumed on join")
}

func TestInviteRejectsAlreadyOnChannel(t *testing.T) {
	cb := newTestCatbox()
	alice := newTestLocalUser(cb, "alice")
	bob := newTestLocalUser(cb, "bob")
	require.NoError(t, joinUserToChannel(cb, alice, "#test", ""))
	require.NoError(t, joinUserToChannel(cb, bob, "#test", ""))
	drainAllLines(alice)

	inviteCommand(cb, alice, []string{"bob", "#test"})

	assert.True(t, anyLineContains(drainAllLines(alice), "443"))
}

func TestChannelBanBlocksJoin(t *testing.T) {
	cb := newTestCatbox()
	alice := newTestLocalUser(cb, "alice")
	bob := newTestLocalUser(cb, "bob")
	require.NoError(t, joinUserToChannel(cb, alice, "#test", ""))

	channelModeCommand(cb, alice, "#test", []string{"+b", "bob!*@*"})
	drainAllLines(bob)

	assert.Error(t, joinUserToChannel(cb, bob, "#test", ""))
	assert.True(t, anyLineContains(drainAllLines(bob), "474"))

	channelModeCommand(cb, alice, "#test", []string{"-b", "bob!*@*"})
	assert.NoError(t, joinUserToChannel(cb, bob, "#test", ""))
}

func TestChannelBanListFull(t *testing.T) {
	cb := newTestCatbox()
	cb.Config.MaxBans = 1
	alice := newTestLocalUser(cb, "alice")
	require.NoError(t, joinUserToChannel(cb, alice, "#test", ""))
	ch, _ := cb.findChannel("#test")
	drainAllLines(alice)

	channelModeCommand(cb, alice, "#test", []string{"+b", "one!*@*"})
	channelModeCommand(cb, alice, "#test", []string{"+b", "two!*@*"})

	assert.Len(t, ch.Bans, 1)
	assert.True(t, anyLineContains(drainAllLines(alice), "478"))
}

func TestModeBanWithoutMaskListsBans(t *testing.T) {
	cb := newTestCatbox()
	alice := newTestLocalUser(cb, "alice")
	require.NoError(t, joinUserToChannel(cb, alice, "#test", ""))
	channelModeCommand(cb, alice, "#test", []string{"+b", "bad!*@*"})
	drainAllLines(alice)

	channelModeCommand(cb, alice, "#test", []string{"+b"})

	lines := drainAllLines(alice)
	assert.True(t, anyLineContains(lines, "367"))
	assert.True(t, anyLineContains(lines, "bad!*@*"))
	assert.True(t, anyLineContains(lines, "368"))
}

func TestUserhostCommand(t *testing.T) {
	cb := newTestCatbox()
	alice := newTestLocalUser(cb, "alice")
	newTestLocalUser(cb, "bob")

	userhostCommand(cb, alice, []string{"bob", "ghost"})

	line := drainLine(t, alice)
	assert.Contains(t, line, "302")
	assert.Contains(t, line, "bob=+user@host")
	assert.NotContains(t, line, "ghost")
}

func TestIsonCommand(t *testing.T) {
	cb := newTestCatbox()
	alice := newTestLocalUser(cb, "alice")
	newTestLocalUser(cb, "bob")

	isonCommand(cb, alice, []string{"bob ghost"})

	line := drainLine(t, alice)
	assert.Contains(t, line, "303")
	assert.Contains(t, line, "bob")
	assert.NotContains(t, line, "ghost")
}

func TestWhowasCommandReportsDepartedUser(t *testing.T) {
	cb := newTestCatbox()
	alice := newTestLocalUser(cb, "alice")
	bob := newTestLocalUser(cb, "bob")

	quitUser(cb, bob, "gone")
	drainAllLines(alice)

	whowasCommand(cb, alice, []string{"bob"})

	lines := drainAllLines(alice)
	assert.True(t, anyLineContains(lines, "314"))
	assert.True(t, anyLineContains(lines, "369"))
}

func TestWhowasCommandUnknownNick(t *testing.T) {
	cb := newTestCatbox()
	alice := newTestLocalUser(cb, "alice")

	whowasCommand(cb, alice, []string{"nobody"})

	lines := drainAllLines(alice)
	assert.True(t, anyLineContains(lines, "406"))
	assert.True(t, anyLineContains(lines, "369"))
}

func TestAwayCommandStoresAndClearsMessage(t *testing.T) {
	cb := newTestCatbox()
	alice := newTestLocalUser(cb, "alice")
	bob := newTestLocalUser(cb, "bob")

	awayCommand(cb, bob, []string{"gone fishing"})
	assert.Equal(t, "gone fishing", bob.AwayMessage)
	drainAllLines(alice)
	drainAllLines(bob)

	privmsgCommand(cb, alice, []string{"bob", "hello"})
	assert.True(t, anyLineContains(drainAllLines(alice), "301"))

	awayCommand(cb, bob, nil)
	assert.Equal(t, "", bob.AwayMessage)
}

func TestRulesCommand(t *testing.T) {
	cb := newTestCatbox()
	alice := newTestLocalUser(cb, "alice")

	rulesCommand(cb, alice, nil)
	assert.True(t, anyLineContains(drainAllLines(alice), "434"), "no rules configured")

	cb.Config.Rules = "be kind\n\nno spam"
	rulesCommand(cb, alice, nil)
	lines := drainAllLines(alice)
	assert.True(t, anyLineContains(lines, "308"))
	assert.True(t, anyLineContains(lines, "be kind"))
	assert.True(t, anyLineContains(lines, "309"))
}

func TestUserAndPassAfterRegistration(t *testing.T) {
	cb := newTestCatbox()
	alice := newTestLocalUser(cb, "alice")

	userCommand(cb, alice, nil)
	assert.Contains(t, drainLine(t, alice), "462")

	passCommand(cb, alice, nil)
	assert.Contains(t, drainLine(t, alice), "462")
}

func TestSummonAndUsersAreDisabled(t *testing.T) {
	cb := newTestCatbox()
	alice := newTestLocalUser(cb, "alice")

	summonCommand(cb, alice, nil)
	assert.Contains(t, drainLine(t, alice), "445")

	usersCommand(cb, alice, nil)
	assert.Contains(t, drainLine(t, alice), "446")
}

func TestLoadAndUnloadModuleCommands(t *testing.T) {
	cb := newTestCatbox()
	oper := newTestLocalUser(cb, "alice")
	oper.setMode(cb, 'o', true)

	unloadmoduleCommand(cb, oper, []string{"sajoin"})
	_, ok := cb.Commands.lookup("SAJOIN")
	assert.False(t, ok)

	loadmoduleCommand(cb, oper, []string{"sajoin"})
	_, ok = cb.Commands.lookup("SAJOIN")
	assert.True(t, ok, "LOADMODULE restores the module and its command")

	drainAllLines(oper)
	loadmoduleCommand(cb, oper, []string{"sajoin"})
	assert.True(t, anyLineContains(drainAllLines(oper), "already loaded"))

	loadmoduleCommand(cb, oper, []string{"nonesuch"})
}

func TestJoinAtMaxChansDoesNotLeakFreshChannel(t *testing.T) {
	cb := newTestCatbox()
	u := newTestLocalUser(cb, "alice")
	for i := 0; i < MaxChans; i++ {
		require.NoError(t, joinUserToChannel(cb, u, fmt.Sprintf("#c%d", i), ""))
	}
	drainAllLines(u)

	err := joinUserToChannel(cb, u, "#overflow", "")

	assert.ErrorIs(t, err, ErrTooManyChannels)
	_, exists := cb.findChannel("#overflow")
	assert.False(t, exists, "the join failed, so its freshly created channel must not survive")
	assert.True(t, anyLineContains(drainAllLines(u), "405"))
}
