// Package internal 提供兩人即時翻牌配對遊戲的房間服務。
//
// 房間管理
//
// 每個房間最多兩個玩家位置（player1、player2）：
//   - 房間以 6 碼代碼識別，創建後有 30 分鐘絕對壽命
//   - 最後一位玩家斷線後保留 1 分鐘寬限期，期間重連就取消刪除
//   - 斷線只清空連接，位置保留，客戶端可用穩定身分（playerId）重連
//
// # 對局流程
//
// 兩人都在線時開局，輪流翻牌：
//   - 翻開第二張牌後停留 1 秒再判定
//   - 配對成功得分並繼續翻，失敗蓋回並換手
//   - 每回合 10 秒倒數，逾時強制換手
//   - 所有牌配對完成即結束，可在同一房間重新開局
//
// 有人斷線時遊戲暫停回 waiting，進度保留，人齊後繼續。
//
// # 延遲動作
//
// 判定、倒數、刪除房間都是「之後才執行」的動作。回呼只帶房間代碼與 token，
// 觸發時重新查詢房間並比對 token，房間被刪除或計時器被重設後，舊回呼不會動到任何狀態。
//
// 使用範例
//
// 啟動服務器：
//
//	manager := internal.NewManager(internal.DefaultConfig(), logger)
//	hub := internal.NewWebSocketHub(manager, logger)
//	handler := internal.NewHandler(manager, logger)
//
//	mux := http.NewServeMux()
//	mux.Handle("/", handler.Routes())
//	mux.HandleFunc("GET /ws", hub.ServeWS)
//	log.Fatal(http.ListenAndServe(":8080", mux))
//
// 客戶端訊息格式：
//
//	{"event": "join-room", "data": {"roomCode": "ABC234", "playerName": "小明", "playerId": "p-1"}}
//	{"event": "flip-card", "data": {"roomCode": "ABC234", "cardIndex": 3}}
//
// 配置選項
//
// 配置檔為 YAML（-config，預設 config.yaml），命令列可覆蓋：
//   - -port：服務監聽端口（預設 8080）
//   - -log-level：日誌級別（debug/info/warn/error）
//   - -log-format：日誌格式（text/json）
//
// 設定 nats.url 時，每局結束會把結果發布到 nats.subject。
package internal
