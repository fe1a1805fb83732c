package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/ezchat/realtime/backend/internal/middleware"
	"github.com/ezchat/realtime/backend/pkg/chatclient"
	"github.com/ezchat/realtime/backend/pkg/event"
)

func main() {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05.000"})

	if err := godotenv.Load(); err != nil {
		logrus.WithError(err).Warn("无法加载 .env，改用系统环境变量")
	}

	mode := flag.String("mode", "", "模式: signup, send 或 tail")
	apiURL := flag.String("api", envOr("CHAT_API_URL", "http://localhost:8080/api"), "REST API 地址")
	wsURL := flag.String("ws", envOr("CHAT_WS_URL", "ws://localhost:8080/ws"), "relay WebSocket 地址")
	userID := flag.String("user", os.Getenv("CHAT_USER_ID"), "当前用户 ID")
	peerID := flag.String("peer", "", "对方用户 ID")
	name := flag.String("name", "", "signup: 用户名")
	email := flag.String("email", "", "signup: 邮箱")
	channel := flag.String("channel", "", "signup: 频道 ID")
	text := flag.String("text", "", "send: 消息内容")
	timeout := flag.Duration("timeout", 15*time.Second, "请求超时时间")

	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	token := tokenFor(*userID)

	switch *mode {
	case "signup":
		runSignup(ctx, *apiURL, *name, *email, *channel, *timeout)
	case "send":
		runSend(ctx, *apiURL, *wsURL, *userID, token, *peerID, *text, *timeout)
	case "tail":
		runTail(ctx, *apiURL, *wsURL, *userID, token, *peerID)
	default:
		flag.Usage()
		logrus.Fatal("请通过 -mode=signup|send|tail 指定模式")
	}
}

func runSignup(ctx context.Context, apiURL, name, email, channel string, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	created, err := chatclient.NewHTTPStore(apiURL, "", "").CreateUser(ctx, name, email)
	if err != nil {
		logrus.WithError(err).Fatal("注册失败")
	}
	profile := created
	if channel != "" {
		profile, err = chatclient.NewHTTPStore(apiURL, created.ID, tokenFor(created.ID)).SetChannel(ctx, channel)
		if err != nil {
			logrus.WithError(err).Fatal("设置频道失败")
		}
	}
	fmt.Printf("id=%s name=%s channel=%s\n", profile.ID, profile.Name, profile.ChannelID)
}

func runSend(ctx context.Context, apiURL, wsURL, userID, token, peerID, text string, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	session, peer := connect(ctx, apiURL, wsURL, userID, token, peerID)
	rec, err := session.Send(ctx, peer, text)
	if err != nil {
		logrus.WithError(err).Fatal("发送失败")
	}
	logrus.WithFields(logrus.Fields{"id": rec.StoreID, "to": peer.ChannelID}).Info("message sent")
}

func runTail(ctx context.Context, apiURL, wsURL, userID, token, peerID string) {
	session, peer := connect(ctx, apiURL, wsURL, userID, token, peerID)

	if peer.ID != "" {
		tl, err := session.Open(ctx, peer)
		if err != nil {
			logrus.WithError(err).Warn("加载会话失败")
		}
		if tl != nil {
			for _, r := range tl.Records() {
				printRecord(r)
			}
		}
	}

	session.OnEvent(func(e event.Event) {
		frame, _ := event.Encode(e)
		fmt.Println(string(frame))
	})
	go func() {
		for n := range session.Notices() {
			logrus.WithError(n.Err).WithField("unread", n.UnreadCount).Warn(n.Message)
		}
	}()

	logrus.WithField("channel", session.Self().ChannelID).Info("tailing relay events, Ctrl-C to stop")
	if err := session.Run(ctx); err != nil && ctx.Err() == nil {
		logrus.WithError(err).Fatal("relay connection ended")
	}
}

func connect(ctx context.Context, apiURL, wsURL, userID, token, peerID string) (*chatclient.Session, chatclient.Profile) {
	if userID == "" {
		logrus.Fatal("需要通过 -user 或 CHAT_USER_ID 指定用户")
	}
	store := chatclient.NewHTTPStore(apiURL, userID, token)

	self, err := store.GetUser(ctx, "me")
	if err != nil {
		logrus.WithError(err).Fatal("获取当前用户失败")
	}

	var peer chatclient.Profile
	if peerID != "" {
		if peer, err = store.GetUser(ctx, peerID); err != nil {
			logrus.WithError(err).Fatal("获取对方用户失败")
		}
	}

	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	tr, err := chatclient.DialWS(ctx, wsURL, header)
	if err != nil {
		logrus.WithError(err).Fatal("连接 relay 失败")
	}

	session := chatclient.NewSession(self, store, tr)
	if err := session.Join(ctx); err != nil {
		logrus.WithError(err).Fatal("加入频道失败")
	}
	return session, peer
}

func printRecord(r chatclient.Record) {
	status := ""
	if r.Read {
		status = " (read)"
	}
	if r.DeletedLocally {
		status = " (deleted)"
	}
	fmt.Printf("[%s] #%d %s: %s%s\n", r.CreatedAt.Format(time.Kitchen), r.StoreID, r.SenderID, r.Content, status)
}

// tokenFor signs a token with JWT_SECRET when one is configured.
func tokenFor(userID string) string {
	secret := strings.TrimSpace(os.Getenv("JWT_SECRET"))
	if secret == "" || userID == "" {
		return ""
	}
	token, err := middleware.IssueToken(secret, userID)
	if err != nil {
		logrus.WithError(err).Fatal("签发令牌失败")
	}
	return token
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
