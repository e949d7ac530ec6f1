package main

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/urfave/cli/v2"
	"maunium.net/go/mautrix/id"

	"github.com/sudoplatform/securecomms/pkg/entities"
	"github.com/sudoplatform/securecomms/pkg/matrix"
)

var sendCommand = &cli.Command{
	Name:      "send",
	Usage:     "Send a message",
	ArgsUsage: "RECIPIENT [TEXT]",
	Before:    requiresAuth,
	After:     closeSession,
	Action:    cmdSend,
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "thread", Usage: "Send into the thread rooted at this event"},
		&cli.StringFlag{Name: "reply", Usage: "Reply to this event"},
		&cli.PathFlag{Name: "file", Aliases: []string{"f"}, Usage: "Send a file instead of text"},
	},
}

var messagesCommand = &cli.Command{
	Name:      "messages",
	Aliases:   []string{"m"},
	Usage:     "List recent messages",
	ArgsUsage: "RECIPIENT",
	Before:    requiresAuth,
	After:     closeSession,
	Action:    cmdMessages,
	Flags: []cli.Flag{
		&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Value: 20, Usage: "Maximum number of messages"},
		&cli.StringFlag{Name: "next", Usage: "Continue from a previous page token"},
	},
}

var summariesCommand = &cli.Command{
	Name:      "summaries",
	Usage:     "Show unread counts and the latest message of chats",
	ArgsUsage: "RECIPIENT...",
	Before:    requiresAuth,
	After:     closeSession,
	Action:    cmdSummaries,
}

var pollResultsCommand = &cli.Command{
	Name:      "poll-results",
	Usage:     "Tally the responses to a poll",
	ArgsUsage: "RECIPIENT POLL_ID",
	Before:    requiresAuth,
	After:     closeSession,
	Action:    cmdPollResults,
}

// Recipients are given as kind:id, e.g. handle:bob or group:!room:example.org.
func resolveArg(ctx *cli.Context, arg string) (id.RoomID, error) {
	recipient, err := entities.ParseRecipient(arg)
	if err != nil {
		return "", err
	}
	return getClient(ctx).ResolveRecipient(ctx.Context, recipient)
}

func cmdSend(ctx *cli.Context) error {
	if ctx.NArg() == 0 {
		return fmt.Errorf("you must specify a recipient")
	}
	roomID, err := resolveArg(ctx, ctx.Args().First())
	if err != nil {
		return err
	}
	client := getClient(ctx)
	var eventID id.EventID
	if path := ctx.Path("file"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		eventID, err = client.SendMediaMessage(ctx.Context, matrix.MediaInput{
			RoomID:   roomID,
			Name:     filepath.Base(path),
			Data:     data,
			ThreadID: id.EventID(ctx.String("thread")),
		})
		if err != nil {
			return err
		}
	} else {
		text := strings.Join(ctx.Args().Tail(), " ")
		if text == "" {
			return fmt.Errorf("you must specify a message")
		}
		eventID, err = client.SendMessage(ctx.Context, matrix.SendMessageInput{
			RoomID:    roomID,
			Text:      text,
			ThreadID:  id.EventID(ctx.String("thread")),
			ReplyToID: id.EventID(ctx.String("reply")),
		})
		if err != nil {
			return err
		}
	}
	fmt.Println(eventID)
	return nil
}

func describeContent(content entities.MessageContent) string {
	switch typed := content.(type) {
	case *entities.TextContent:
		return typed.Text
	case *entities.EmoteContent:
		return "* " + typed.Text
	case *entities.NoticeContent:
		return typed.Text
	case *entities.ImageContent:
		return fmt.Sprintf("[image %s]", typed.Media.Name)
	case *entities.FileContent:
		return fmt.Sprintf("[file %s]", typed.Media.Name)
	case *entities.PollContent:
		return fmt.Sprintf("[poll] %s", typed.Poll.Question)
	case nil:
		return ""
	default:
		return fmt.Sprintf("[%s]", content.ContentType())
	}
}

func printMessage(msg *entities.Message) {
	var flags []string
	if msg.Content != nil && msg.Content.Meta().IsEdited {
		flags = append(flags, "edited")
	}
	if msg.State != entities.MessageStateCommitted {
		flags = append(flags, strings.ToLower(msg.State.String()))
	}
	suffix := ""
	if len(flags) > 0 {
		suffix = " (" + strings.Join(flags, ", ") + ")"
	}
	fmt.Printf("%s %-16s %s%s\n", msg.Timestamp.Format(time.DateTime), msg.SenderHandle.ID, describeContent(msg.Content), suffix)
}

func cmdMessages(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return fmt.Errorf("you must specify exactly one recipient")
	}
	roomID, err := resolveArg(ctx, ctx.Args().First())
	if err != nil {
		return err
	}
	out, err := getClient(ctx).ListMessages(ctx.Context, roomID, ctx.Int("limit"), ctx.String("next"))
	if err != nil {
		return err
	}
	for _, msg := range out.Messages {
		printMessage(msg)
	}
	if out.NextToken != "" {
		fmt.Fprintf(os.Stderr, "More messages: --next %s\n", out.NextToken)
	}
	return nil
}

func cmdSummaries(ctx *cli.Context) error {
	if ctx.NArg() == 0 {
		return fmt.Errorf("you must specify at least one recipient")
	}
	recipients := make([]entities.Recipient, ctx.NArg())
	for i, arg := range ctx.Args().Slice() {
		recipient, err := entities.ParseRecipient(arg)
		if err != nil {
			return err
		}
		recipients[i] = recipient
	}
	summaries, err := getClient(ctx).GetChatSummaries(ctx.Context, recipients)
	if err != nil {
		return err
	}
	for _, summary := range summaries {
		fmt.Printf("%s unread=%d mentions=%d\n", summary.Recipient, summary.UnreadCount.All, summary.UnreadCount.Mentions)
		threadIDs := make([]string, 0, len(summary.ThreadUnreadCount))
		for threadID := range summary.ThreadUnreadCount {
			threadIDs = append(threadIDs, threadID)
		}
		slices.Sort(threadIDs)
		for _, threadID := range threadIDs {
			count := summary.ThreadUnreadCount[threadID]
			fmt.Printf("  thread %s unread=%d mentions=%d\n", threadID, count.All, count.Mentions)
		}
		if summary.LatestMessage != nil {
			fmt.Print("  ")
			printMessage(summary.LatestMessage)
		}
	}
	return nil
}

func cmdPollResults(ctx *cli.Context) error {
	if ctx.NArg() != 2 {
		return fmt.Errorf("you must specify a recipient and a poll ID")
	}
	roomID, err := resolveArg(ctx, ctx.Args().Get(0))
	if err != nil {
		return err
	}
	client := getClient(ctx)
	pollID := id.EventID(ctx.Args().Get(1))
	results, err := client.GetPollResponses(ctx.Context, roomID, pollID)
	if err != nil {
		return err
	}
	labels := make(map[string]string)
	if msg, err := client.GetMessage(ctx.Context, roomID, pollID); err == nil && msg != nil {
		if poll, ok := msg.Content.(*entities.PollContent); ok {
			fmt.Println(poll.Poll.Question)
			for _, answer := range poll.Poll.Answers {
				labels[answer.ID] = answer.Text
			}
		}
	}
	answerIDs := make([]string, 0, len(results.TalliedAnswers))
	for answerID := range results.TalliedAnswers {
		answerIDs = append(answerIDs, answerID)
	}
	slices.SortFunc(answerIDs, func(a, b string) int {
		return results.TalliedAnswers[b] - results.TalliedAnswers[a]
	})
	for _, answerID := range answerIDs {
		label := labels[answerID]
		if label == "" {
			label = answerID
		}
		fmt.Printf("  %4d  %s\n", results.TalliedAnswers[answerID], label)
	}
	fmt.Printf("Total votes: %d\n", results.TotalVotes)
	if results.EndedAt != nil {
		fmt.Printf("Ended at %s\n", results.EndedAt.Format(time.DateTime))
	}
	return nil
}
