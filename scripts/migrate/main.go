package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
	"github.com/mahaj/dupahar-sync/pkg/backend"
	"github.com/mahaj/dupahar-sync/pkg/db"
	"github.com/mama165/sdk-go/logs"
	"github.com/segmentio/kafka-go"
)

type Config struct {
	Backend     backend.Config
	Replication int    `env:"SCYLLA_REPLICATION,default=1"`
	Partitions  int    `env:"KAFKA_PARTITIONS,default=6"`
	LogLevel    string `env:"LOG_LEVEL,default=INFO"`
}

func main() {
	drop := flag.Bool("drop", false, "drop the tables and the topic instead of creating them")
	flag.Parse()
	if err := run(*drop); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(drop bool) error {
	_ = godotenv.Load()
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	log := logs.GetLoggerFromString(config.LogLevel)
	hosts := backend.Split(config.Backend.ScyllaHosts)
	brokers := backend.Split(config.Backend.KafkaBrokers)

	if !drop {
		if err := db.CreateKeyspace(hosts, config.Backend.ScyllaKeyspace, config.Replication, log); err != nil {
			return err
		}
	}
	session, err := db.NewSession(hosts, config.Backend.ScyllaKeyspace, log)
	if err != nil {
		return err
	}
	defer session.Close()

	controller, err := dialController(brokers[0])
	if err != nil {
		return err
	}
	defer controller.Close()

	if drop {
		if err := session.Drop(log); err != nil {
			return err
		}
		if err := controller.DeleteTopics(config.Backend.KafkaTopic); err != nil {
			return fmt.Errorf("delete topic %s: %w", config.Backend.KafkaTopic, err)
		}
		log.Info("Topic deleted", "topic", config.Backend.KafkaTopic)
		return nil
	}

	if err := session.Migrate(log); err != nil {
		return err
	}
	if err := controller.CreateTopics(kafka.TopicConfig{
		Topic:             config.Backend.KafkaTopic,
		NumPartitions:     config.Partitions,
		ReplicationFactor: config.Replication,
	}); err != nil {
		return fmt.Errorf("create topic %s: %w", config.Backend.KafkaTopic, err)
	}
	log.Info("Topic ready", "topic", config.Backend.KafkaTopic, "partitions", config.Partitions)
	return nil
}

// dialController connects to the cluster controller, the only broker that
// accepts topic changes.
func dialController(broker string) (*kafka.Conn, error) {
	conn, err := kafka.Dial("tcp", broker)
	if err != nil {
		return nil, fmt.Errorf("dial kafka %s: %w", broker, err)
	}
	defer conn.Close()
	controller, err := conn.Controller()
	if err != nil {
		return nil, fmt.Errorf("kafka controller: %w", err)
	}
	addr := net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port))
	cc, err := kafka.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial kafka controller %s: %w", addr, err)
	}
	return cc, nil
}
