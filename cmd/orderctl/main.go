package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/sirupsen/logrus"

	"restaurant-order-service/internal/app"
	"restaurant-order-service/internal/config"
	"restaurant-order-service/internal/service"
)

const usage = `usage:
  orderctl orders [-date YYYYMMDD] [-status pending|completed|cancelled|all] [-page N] [-limit N]
  orderctl counter [-date YYYYMMDD]`

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Config: %v", err)
	}
	logger := app.NewLogger(cfg.LogLevel)
	logger.SetOutput(os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	stores, err := app.OpenStores(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("Stores: %v", err)
	}
	defer stores.Close(context.Background())

	svc, err := app.NewOrderService(cfg, stores, nil, logger)
	if err != nil {
		logger.Fatalf("Service: %v", err)
	}

	if err := run(ctx, os.Args[1:], svc, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stores.Close(context.Background())
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, svc *service.OrderService, out io.Writer) error {
	if len(args) == 0 {
		return errors.New(usage)
	}
	switch args[0] {
	case "orders":
		return listOrders(ctx, args[1:], svc, out)
	case "counter":
		return showCounter(ctx, args[1:], svc, out)
	default:
		return fmt.Errorf("unknown command %q\n%s", args[0], usage)
	}
}

func listOrders(ctx context.Context, args []string, svc *service.OrderService, out io.Writer) error {
	fs := flag.NewFlagSet("orders", flag.ContinueOnError)
	date := fs.String("date", "", "business day as YYYYMMDD, defaults to today")
	status := fs.String("status", "", "filter by status")
	page := fs.Int("page", 1, "page number")
	limit := fs.Int("limit", service.DefaultPageSize, "orders per page")
	if err := fs.Parse(args); err != nil {
		return err
	}

	res, err := svc.ListOrders(ctx, service.ListQuery{Date: *date, Status: *status, Page: *page, Limit: *limit})
	if err != nil {
		return err
	}

	table := tablewriter.NewWriter(out)
	table.Header("Number", "Customer", "Phone", "Items", "Total", "Status", "Time")
	for _, o := range res.Orders {
		if err := table.Append([]string{
			o.OrderNumber,
			o.Customer,
			o.Phone,
			strconv.Itoa(len(o.Items)),
			strconv.FormatFloat(o.Total, 'f', 2, 64),
			string(o.Status),
			o.CreatedTime.Format(time.DateTime),
		}); err != nil {
			return err
		}
	}
	if err := table.Render(); err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "page %d/%d, %d orders\n", res.Page, res.TotalPages(), res.TotalCount)
	return err
}

func showCounter(ctx context.Context, args []string, svc *service.OrderService, out io.Writer) error {
	fs := flag.NewFlagSet("counter", flag.ContinueOnError)
	date := fs.String("date", "", "business day as YYYYMMDD, defaults to today")
	if err := fs.Parse(args); err != nil {
		return err
	}

	c, err := svc.CounterInfo(ctx, *date)
	if err != nil {
		return err
	}

	table := tablewriter.NewWriter(out)
	table.Header("Key", "Seq", "Created", "Expires")
	if err := table.Append([]string{
		c.Key,
		strconv.FormatInt(c.Seq, 10),
		c.CreatedAt.Format(time.DateTime),
		c.ExpireAt.Format(time.DateTime),
	}); err != nil {
		return err
	}
	return table.Render()
}
