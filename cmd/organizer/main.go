package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/korjavin/familyorganizer/pkg/api"
	"github.com/korjavin/familyorganizer/pkg/clock"
	"github.com/korjavin/familyorganizer/pkg/config"
	"github.com/korjavin/familyorganizer/pkg/cooking"
	"github.com/korjavin/familyorganizer/pkg/directory"
	"github.com/korjavin/familyorganizer/pkg/logger"
	"github.com/korjavin/familyorganizer/pkg/openai"
	"github.com/korjavin/familyorganizer/pkg/scheduler"
	"github.com/korjavin/familyorganizer/pkg/state"
	"github.com/korjavin/familyorganizer/pkg/storage"
	"github.com/korjavin/familyorganizer/pkg/telegram"
	"github.com/korjavin/familyorganizer/pkg/water"
)

func main() {
	log := logger.Global
	log.Info("Starting family organizer...")

	cfg, err := config.LoadFromEnv()
	if err != nil {
		log.Error("Failed to load configuration: %v", err)
		os.Exit(1)
	}
	logger.SetLevel(cfg.LogLevel)
	log = logger.Global
	defer log.Sync()

	store, err := storage.New(cfg.DataDir)
	if err != nil {
		log.Error("Failed to initialize storage: %v", err)
		os.Exit(1)
	}
	defer store.Close()

	// Start BadgerDB garbage collection
	store.StartGCRoutine(10 * time.Minute)

	members, err := directory.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Error("Failed to open member directory: %v", err)
		os.Exit(1)
	}
	defer members.Close()

	var bot *telegram.Bot
	var deliverer scheduler.Deliverer
	if cfg.TelegramEnabled() {
		bot, err = telegram.New(cfg.BotToken, cfg.FamilyChatID)
		if err != nil {
			log.Error("Failed to initialize Telegram bot: %v", err)
			os.Exit(1)
		}
		deliverer = bot
	} else {
		log.Warn("BOT_TOKEN not set, fired notifications are only logged")
	}

	var suggester api.RecipeSuggester
	if cfg.OpenAIEnabled() {
		suggester = openai.New(cfg.OpenAIAPIKey, cfg.OpenAIAPIBase, cfg.OpenAIModel)
	}

	gateway := scheduler.New(deliverer, cfg.Location, scheduler.Permission(cfg.NotificationPermission), store)
	clk := clock.InLocation(clock.Real{}, cfg.Location)
	waterScheduler := water.New(gateway, store, members, clk, cfg.WakeHour)
	gateway.AddFilter(waterScheduler.Suppress)

	sequencer := cooking.NewSequencer(gateway, store, clk, nil)
	sequencer.OnFinish(func() {
		log.Info("Cooking session is over")
	})

	if err := gateway.Start(); err != nil {
		log.Error("Failed to start notification scheduler: %v", err)
		os.Exit(1)
	}
	defer gateway.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if restored, err := sequencer.Restore(ctx); err != nil {
		log.Error("Failed to restore cooking session: %v", err)
	} else if restored {
		log.Info("Resumed the cooking session that was running before restart")
	}

	if bot != nil {
		chats := state.New(clk)
		go bot.Start(ctx,
			commandHandlers(bot, chats, waterScheduler, sequencer, suggester),
			callbackHandlers(bot, waterScheduler),
			recipeHandler(bot, chats, sequencer))
	}

	router := api.NewRouter(api.NewWaterHandler(waterScheduler, members), api.NewCookingHandler(sequencer, suggester), cfg.CORSOrigins)
	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("HTTP API listening on %s", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server failed: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP shutdown: %v", err)
	}
}

func commandHandlers(bot *telegram.Bot, chats *state.Manager, w *water.Scheduler, seq *cooking.Sequencer, suggester api.RecipeSuggester) map[string]telegram.CommandHandler {
	log := logger.New("commands")
	reply := func(text string) {
		if err := bot.SendMessage(text); err != nil {
			log.Error("Failed to send reply: %v", err)
		}
	}

	return map[string]telegram.CommandHandler{
		"water_on": func(message *tgbotapi.Message) {
			count, err := w.SetupForFamily(context.Background(), true)
			if err != nil {
				log.Error("Failed to enable water reminders: %v", err)
				reply(fmt.Sprintf("😢 Could not enable water reminders: %v", err))
				return
			}
			reply(fmt.Sprintf("💧 Water reminders are on: %d notifications scheduled.", count))
		},
		"water_off": func(message *tgbotapi.Message) {
			if _, err := w.SetupForFamily(context.Background(), false); err != nil {
				log.Error("Failed to disable water reminders: %v", err)
				reply("😢 Some reminders could not be removed, try again.")
				return
			}
			reply("💤 Water reminders are off.")
		},
		"recipe": func(message *tgbotapi.Message) {
			chats.SetState(message.Chat.ID, state.StateAwaitingRecipe)
			reply("📝 Send me the recipe, one step per line, e.g. \"Fry the onions 5 min\".")
		},
		"cook": func(message *tgbotapi.Message) {
			ctx := context.Background()
			text := strings.TrimSpace(message.CommandArguments())
			if text != "" && !strings.Contains(text, "\n") && suggester != nil {
				steps, err := suggester.RecipeSteps(ctx, text)
				if err != nil {
					log.Error("Failed to get recipe steps for %s: %v", text, err)
				} else {
					text = strings.Join(steps, "\n")
				}
			}
			// Without arguments the last saved recipe is used.
			if text != "" {
				if err := seq.SetRecipe(text); err != nil {
					reply("🍳 A cooking session is already running. Use /cook_stop first.")
					return
				}
			}
			st, err := seq.Start(ctx)
			if err != nil {
				log.Error("Failed to start cooking session: %v", err)
				reply("😢 Could not start the cooking timer.")
				return
			}
			reply(fmt.Sprintf("🍳 Cooking started: %d steps, %d minutes. First: %s",
				len(st.Steps), st.Total/60, st.Steps[0].Title))
		},
		"cook_stop": func(message *tgbotapi.Message) {
			if err := seq.Stop(context.Background()); err != nil {
				log.Error("Failed to stop cooking session: %v", err)
				return
			}
			reply("🛑 Cooking timer stopped.")
		},
		"cook_status": func(message *tgbotapi.Message) {
			st := seq.State()
			if !st.Active {
				reply("No cooking session is running.")
				return
			}
			step := st.Steps[st.StepIndex]
			reply(fmt.Sprintf("⏳ Step %d/%d: %s (%d:%02d left)",
				st.StepIndex+1, len(st.Steps), step.Title, st.StepRemaining/60, st.StepRemaining%60))
		},
	}
}

func callbackHandlers(bot *telegram.Bot, w *water.Scheduler) map[string]telegram.CallbackHandler {
	log := logger.New("callbacks")
	return map[string]telegram.CallbackHandler{
		telegram.AckPrefix: func(callback *tgbotapi.CallbackQuery) {
			memberID, slot, amountMl, ok := telegram.ParseAck(callback.Data)
			answer := "👍 Noted, well done!"
			if !ok {
				answer = "Unknown reminder"
			} else if err := w.Acknowledge(context.Background(), memberID, slot, amountMl); err != nil {
				log.Error("Failed to acknowledge %s for %s: %v", slot, memberID, err)
				answer = "😢 Could not save that, try again."
			}
			if err := bot.AnswerCallbackQuery(callback.ID, answer); err != nil {
				log.Error("Failed to answer callback: %v", err)
			}
		},
	}
}

// recipeHandler takes the next plain message after /recipe as the recipe text
func recipeHandler(bot *telegram.Bot, chats *state.Manager, seq *cooking.Sequencer) telegram.HandlerFunc {
	log := logger.New("recipe")
	return func(update tgbotapi.Update) {
		if update.Message == nil || update.Message.Text == "" {
			return
		}
		chatID := update.Message.Chat.ID
		if chats.GetState(chatID) != state.StateAwaitingRecipe {
			return
		}
		chats.ClearState(chatID)

		reply := "🍳 A cooking session is already running. Use /cook_stop first."
		if err := seq.SetRecipe(update.Message.Text); err == nil {
			plan := seq.Plan()
			reply = fmt.Sprintf("✅ Recipe saved: %d steps, %d minutes. Send /cook to start.", len(plan), plan.TotalSeconds()/60)
		}
		if err := bot.SendMessage(reply); err != nil {
			log.Error("Failed to send reply: %v", err)
		}
	}
}
