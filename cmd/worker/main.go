package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/gopherchat/gopherchat/internal/ai"
	"github.com/gopherchat/gopherchat/internal/chat"
	"github.com/gopherchat/gopherchat/internal/config"
	"github.com/gopherchat/gopherchat/internal/db"
	"github.com/gopherchat/gopherchat/internal/httpapi/handlers"
	"github.com/gopherchat/gopherchat/internal/store/rabbitmq"
)

type jobMsg struct {
	JobID string `json:"job_id"`
}

const retryDelay = 5 * time.Second

func workerConcurrency() int {
	v := os.Getenv("WORKER_CONCURRENCY")
	if v == "" {
		return 2
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 2
	}
	if n > 50 {
		return 50
	}
	return n
}

func main() {
	_ = godotenv.Load()

	cfg := config.Load()

	gdb := db.Connect(cfg.DBDSN)
	db.Migrate(gdb)

	repo := chat.NewRepo(gdb)
	gateway := ai.NewGateway(gdb, handlers.NewProviderRegistry(cfg))
	svc := chat.NewService(repo, gateway)

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("rabbit dial: %v", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		log.Fatalf("rabbit channel: %v", err)
	}
	defer ch.Close()

	if err := rabbitmq.DeclareTopology(ch, cfg.RabbitQueue); err != nil {
		log.Fatalf("queue declare: %v", err)
	}

	concurrency := workerConcurrency()

	if err := ch.Qos(concurrency, 0, false); err != nil {
		log.Fatalf("qos: %v", err)
	}

	msgs, err := ch.Consume(cfg.RabbitQueue, "", false, false, false, false, nil)
	if err != nil {
		log.Fatalf("consume: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf("worker started, queue=%s concurrency=%d", cfg.RabbitQueue, concurrency)

	jobs := make(chan amqp.Delivery, concurrency*2)

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range jobs {
				handleDelivery(ctx, workerID, svc, ch, cfg.RabbitQueue, d)
			}
		}(i)
	}

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case d, ok := <-msgs:
			if !ok {
				break loop
			}
			jobs <- d
		}
	}

	close(jobs)
	wg.Wait()
	log.Printf("worker stopped")
}

func handleDelivery(ctx context.Context, workerID int, svc *chat.Service, ch *amqp.Channel, queue string, d amqp.Delivery) {
	var m jobMsg
	if err := json.Unmarshal(d.Body, &m); err != nil || m.JobID == "" {
		log.Printf("worker=%d bad message: %v", workerID, err)
		_ = d.Nack(false, false) // to DLQ
		return
	}

	job, err := svc.GetJob(ctx, m.JobID)
	if err != nil {
		log.Printf("worker=%d job load failed id=%s err=%v", workerID, m.JobID, err)
		_ = d.Nack(false, false)
		return
	}
	if job.Status == chat.JobSucceeded {
		_ = d.Ack(false)
		return
	}

	err = svc.RunJob(ctx, job)
	switch {
	case err == nil:
		_ = d.Ack(false)
	case errors.Is(err, chat.ErrAlreadyProcessing):
		// session busy, try again after the retry delay
		if pubErr := publishRetry(ctx, ch, queue, d.Body); pubErr != nil {
			log.Printf("worker=%d retry publish failed id=%s err=%v", workerID, m.JobID, pubErr)
			_ = d.Nack(false, false)
			return
		}
		_ = d.Ack(false)
	default:
		// job row already marked failed with the error detail
		log.Printf("worker=%d job failed id=%s err=%v", workerID, m.JobID, err)
		_ = d.Ack(false)
	}
}

func publishRetry(ctx context.Context, ch *amqp.Channel, queue string, body []byte) error {
	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return ch.PublishWithContext(cctx, "", queue+".retry", false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
		Expiration:   strconv.FormatInt(retryDelay.Milliseconds(), 10),
		Timestamp:    time.Now(),
	})
}
