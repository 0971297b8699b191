package main

import (
	"flag"
	"pedalpay/config"
	"pedalpay/internal"
	"pedalpay/services"
)

func main() {

	logger := internal.NewLogger("internal", false, nil)

	configPath := flag.String("conf", "config.yml", "path to config file")
	flag.Parse()

	logger.Info("using config file: " + *configPath)
	conf, err := config.GetConfig(*configPath)
	if err != nil {
		logger.Error("boot", err)
		return
	}

	// a misconfigured gateway must never serve payment traffic
	if err = conf.Validate(); err != nil {
		logger.Error("configuration", err)
		return
	}

	var mongo services.Database
	if conf.Mongo.Enabled {
		mongo, err = internal.NewMongoClient(conf)
		if err != nil {
			logger.Error("mongo client", err)
			return
		}
		logger.Info("mongo client initialized")
	}

	metrics := internal.NewMetrics()
	mailer := internal.NewLogMailer(internal.NewLogger("mailer", conf.IsDebug, mongo))

	payments := internal.NewPayments(conf)
	payments.SetLogger(internal.NewLogger("payments", conf.IsDebug, mongo))
	payments.SetDatabase(mongo)
	payments.SetMailer(mailer)
	payments.SetMetrics(metrics)

	server := internal.NewServer(conf)
	server.SetLogger(internal.NewLogger("server", conf.IsDebug, mongo))
	server.SetPaymentsService(payments)
	server.SetDatabase(mongo)
	server.SetMetrics(metrics)

	if conf.Stripe.Enabled {
		card := internal.NewCardWebhook(conf)
		card.SetLogger(internal.NewLogger("card", conf.IsDebug, mongo))
		card.SetDatabase(mongo)
		card.SetMailer(mailer)
		card.SetMetrics(metrics)
		server.SetCardWebhook(card)
		logger.Info("card webhook enabled")
	}

	err = server.Start()
	if err != nil {
		logger.Error("server start", err)
		return
	}

}
